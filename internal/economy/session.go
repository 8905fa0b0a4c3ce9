package economy

import (
	"fmt"
	"strings"
)

type BalanceLine struct {
	PlayerID    string `json:"player_id"`
	DisplayName string `json:"display_name"`
	Billed      int64  `json:"billed"`
	Interest    int64  `json:"interest"`
	Balance     int64  `json:"balance"`
}

type SessionReport struct {
	Balances []BalanceLine `json:"balances"`
	Offering []MarketItem  `json:"offering"`
}

// SessionError names the account that aborted a session run.
type SessionError struct {
	PlayerID string
	Err      error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session aborted at %s: %v", e.PlayerID, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// Scheduler runs the batch transition between game sessions: subscription
// billing and debt interest for every account, then a market rotation.
// Only the designated authorizer may start it.
type Scheduler struct {
	authorizerID string
}

func NewScheduler(authorizerID string) (*Scheduler, error) {
	authorizerID = strings.TrimSpace(authorizerID)
	if authorizerID == "" {
		return nil, fmt.Errorf("%w: session authorizer is required", ErrUnauthorized)
	}
	return &Scheduler{authorizerID: authorizerID}, nil
}

func (s *Scheduler) Authorize(callerID string) error {
	if strings.TrimSpace(callerID) != s.authorizerID {
		return fmt.Errorf("%w: %s may not start a session", ErrUnauthorized, callerID)
	}
	return nil
}

func (s *Scheduler) AuthorizerID() string {
	return s.authorizerID
}

// Run mutates l and m in place and stops at the first failing account, so
// callers must hand it working copies and discard them on error.
func (s *Scheduler) Run(callerID string, l *Ledger, m *Market) (SessionReport, error) {
	var report SessionReport
	if err := s.Authorize(callerID); err != nil {
		return report, err
	}
	for _, id := range l.order {
		billed, err := l.BillSubscriptions(id)
		if err != nil {
			return SessionReport{}, &SessionError{PlayerID: id, Err: err}
		}
		interest, err := l.ApplyInterest(id)
		if err != nil {
			return SessionReport{}, &SessionError{PlayerID: id, Err: err}
		}
		a := l.accounts[id]
		report.Balances = append(report.Balances, BalanceLine{
			PlayerID:    id,
			DisplayName: a.DisplayName,
			Billed:      billed,
			Interest:    interest,
			Balance:     a.Balance,
		})
	}
	report.Offering = m.Rotate()
	return report, nil
}
