// Package domain defines the persistent entities of the diagnosis service.
package domain

import "time"

// DiagnosisSession is one user-initiated diagnosis request and its outcome.
type DiagnosisSession struct {
	SessionID   string
	UserID      string
	Query       string
	ServiceHint string
	Answer      string
	Status      string
	ErrorMsg    string
	CreatedAt   time.Time
	CompletedAt *time.Time
}
