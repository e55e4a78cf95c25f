package server

import (
	"fmt"
)

// ChanSvc is a single-goroutine executor. Closures sent on it run one at a
// time in the goroutine started by RunSvc.
type ChanSvc chan func()

// SvcSync runs code on s and waits for its result. Calls from one goroutine
// run in the order they were made. A panic in code is returned as an error
// and leaves the executor running.
func SvcSync[T any](s ChanSvc, code func() (T, error)) (value T, err error) {
	done := make(chan struct{})
	s <- func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic in service: %v", r)
			}
		}()
		value, err = code()
	}
	<-done
	return value, err
}

// RunSvc runs a service. Close the channel to stop it.
func RunSvc(s ChanSvc) {
	go func() {
		for cmd := range s {
			cmd()
		}
	}()
}
