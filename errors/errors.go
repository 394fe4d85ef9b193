package errors

import "fmt"

var (
	ErrWorkerPanic     = fmt.Errorf("worker panic")
	ErrThreadExists    = fmt.Errorf("an open thread already exists for this user")
	ErrThreadNotFound  = fmt.Errorf("thread not found")
	ErrMessageNotFound = fmt.Errorf("message not found")
)
