// Package scheduler runs background work over asynq: transaction pipeline
// processing, retry queue redrives and the dispatch expiry sweep.
package scheduler

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

// TaskTransactionProcess runs the pipeline for a newly submitted
// transaction.
const TaskTransactionProcess = "transaction.process"

// TaskRetryRedrive re-attempts one claimed retry queue entry. Attempt
// accounting lives in the retry queue, so these tasks never use asynq's own
// retries.
const TaskRetryRedrive = "retryqueue.redrive"

// TaskDispatchExpire sweeps pending job requests past their response
// window.
const TaskDispatchExpire = "dispatch.expire"

type TransactionProcessPayload struct {
	TransactionID string `json:"transactionId"`
}

type RetryRedrivePayload struct {
	EntryID string `json:"entryId"`
}

func NewTransactionProcessTask(payload TransactionProcessPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskTransactionProcess, data), nil
}

func ParseTransactionProcessPayload(task *asynq.Task) (TransactionProcessPayload, error) {
	var payload TransactionProcessPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return TransactionProcessPayload{}, err
	}
	return payload, nil
}

func NewRetryRedriveTask(payload RetryRedrivePayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskRetryRedrive, data), nil
}

func ParseRetryRedrivePayload(task *asynq.Task) (RetryRedrivePayload, error) {
	var payload RetryRedrivePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return RetryRedrivePayload{}, err
	}
	return payload, nil
}

func NewDispatchExpireTask() *asynq.Task {
	return asynq.NewTask(TaskDispatchExpire, nil)
}
