package accesspolicy

import (
	"github.com/steveyegge/homegraph/internal/audit"
	"github.com/steveyegge/homegraph/internal/auth"
	"github.com/steveyegge/homegraph/internal/errkind"
)

// Enforcer binds the policy table to an audit logger so every allow/deny
// decision is recorded (§4.5 "records access.denied").
type Enforcer struct {
	Audit *audit.Logger
}

// NewEnforcer constructs an Enforcer that records decisions to logger.
func NewEnforcer(logger *audit.Logger) *Enforcer {
	return &Enforcer{Audit: logger}
}

// Authorize checks action against claims and emits the matching audit
// event. clientIP is recorded on the event regardless of outcome.
func (e *Enforcer) Authorize(action Action, claims *auth.Claims, clientIP string) error {
	err := Check(action, claims)

	rec := audit.Record{ClientIP: clientIP, RequestInfo: string(action)}
	if claims != nil {
		rec.SubjectID = claims.Subject
	}

	if err != nil {
		rec.Event = audit.EventAccessDenied
		rec.Severity = audit.SeverityWarning
		if kind, ok := errkind.KindOf(err); ok {
			rec.Detail = map[string]any{"reason": string(kind)}
		}
		if e.Audit != nil {
			e.Audit.Emit(rec)
		}
		return err
	}

	rec.Event = audit.EventAccessGranted
	rec.Severity = audit.SeverityInfo
	if e.Audit != nil {
		e.Audit.Emit(rec)
	}
	return nil
}
