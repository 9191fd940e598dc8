package resilience

import (
	"context"
	"database/sql"
	"errors"
	"net"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// signal is the normalized view of a raw error that the rule table matches on.
type signal struct {
	code     string
	message  string
	lower    string
	field    string
	noRows   bool
	deadline bool
}

type rule struct {
	kind        Kind
	severity    Severity
	userMessage string
	codes       []string
	codePrefix  []string
	contains    []string
	match       func(signal) bool
}

func (r rule) matches(s signal) bool {
	if r.match != nil && r.match(s) {
		return true
	}
	if s.code != "" {
		for _, c := range r.codes {
			if s.code == c {
				return true
			}
		}
		for _, p := range r.codePrefix {
			if strings.HasPrefix(s.code, p) {
				return true
			}
		}
	}
	for _, sub := range r.contains {
		if strings.Contains(s.lower, sub) {
			return true
		}
	}
	return false
}

var (
	httpStatusRe = regexp.MustCompile(`\b(401|403|404|408|429|500|502|503|504)\b`)
	columnRe     = regexp.MustCompile(`column "([^"]+)"`)
	fieldRe      = regexp.MustCompile(`(?i)\bfield[ :]+"?([a-z_][a-z0-9_]*)"?`)
)

func hasHTTPStatus(s signal, statuses ...string) bool {
	for _, m := range httpStatusRe.FindAllString(s.message, -1) {
		for _, st := range statuses {
			if m == st {
				return true
			}
		}
	}
	return false
}

// rules is evaluated top to bottom and the first match wins. The order is
// significant: ambiguous messages such as "foreign key constraint" must be
// claimed by the constraint rule before the validation rule sees them.
var rules = []rule{
	{
		kind:        KindAuthentication,
		severity:    SeverityHigh,
		userMessage: "Your session has expired. Please sign in again.",
		codes:       []string{"28000", "28P01", "PGRST301", codes.Unauthenticated.String()},
		contains: []string{
			"jwt expired", "invalid jwt", "jwt malformed", "session expired", "session not found",
			"invalid token", "token expired", "refresh token", "not authenticated",
			"unauthenticated", "password authentication failed", "invalid login credentials",
		},
		match: func(s signal) bool { return hasHTTPStatus(s, "401") },
	},
	{
		kind:        KindAuthorization,
		severity:    SeverityHigh,
		userMessage: "You do not have permission to perform this action.",
		codes:       []string{"42501", codes.PermissionDenied.String()},
		contains: []string{
			"permission denied", "row-level security", "insufficient privilege",
			"not authorized", "forbidden", "access denied",
		},
		match: func(s signal) bool { return hasHTTPStatus(s, "403") },
	},
	{
		kind:        KindConstraint,
		severity:    SeverityMedium,
		userMessage: "This item is linked to other records and cannot be changed.",
		codes:       []string{"23503"},
		contains:    []string{"foreign key constraint", "violates foreign key"},
	},
	{
		kind:        KindConstraint,
		severity:    SeverityMedium,
		userMessage: "An item with these details already exists.",
		codes:       []string{"23505", codes.AlreadyExists.String()},
		contains:    []string{"duplicate key", "unique constraint", "already exists"},
	},
	{
		kind:        KindNetwork,
		severity:    SeverityMedium,
		userMessage: "Network error. Check your connection and try again.",
		contains: []string{
			"failed to fetch", "fetch failed", "network", "no such host",
			"dns", "unreachable",
		},
	},
	{
		kind:        KindConnection,
		severity:    SeverityHigh,
		userMessage: "Unable to reach the server. Please try again.",
		codes:       []string{codes.Unavailable.String()},
		codePrefix:  []string{"08"},
		contains: []string{
			"connection refused", "connection reset", "broken pipe", "connection closed",
			"econnrefused", "econnreset", "bad connection", "conn closed", "failed to connect",
		},
	},
	{
		kind:        KindTimeout,
		severity:    SeverityMedium,
		userMessage: "The request took too long. Please try again.",
		codes:       []string{"57014", codes.DeadlineExceeded.String()},
		contains:    []string{"timeout", "timed out", "deadline exceeded"},
		match: func(s signal) bool {
			return s.deadline || hasHTTPStatus(s, "408", "504")
		},
	},
	{
		kind:        KindRateLimit,
		severity:    SeverityLow,
		userMessage: "Too many requests. Please wait a moment and try again.",
		codes:       []string{codes.ResourceExhausted.String()},
		contains:    []string{"rate limit", "too many requests", "quota exceeded", "throttl"},
		match:       func(s signal) bool { return hasHTTPStatus(s, "429") },
	},
	{
		kind:        KindValidation,
		severity:    SeverityLow,
		userMessage: "Please check your input and try again.",
		codes: []string{
			"23502", "23514", "22P02", "22001", "22003", "22007", "22008", "PGRST204",
			codes.InvalidArgument.String(),
		},
		contains: []string{
			"violates not-null", "not-null constraint", "check constraint", "invalid input",
			"value too long", "invalid value", "validation", "is required",
		},
		match: func(s signal) bool { return s.field != "" },
	},
	{
		kind:        KindNotFound,
		severity:    SeverityLow,
		userMessage: "The requested item could not be found.",
		codes:       []string{"PGRST116", "P0002", codes.NotFound.String()},
		contains:    []string{"no rows", "not found"},
		match: func(s signal) bool {
			return s.noRows || hasHTTPStatus(s, "404")
		},
	},
	{
		kind:        KindServer,
		severity:    SeverityHigh,
		userMessage: "The server encountered an error. Please try again later.",
		codes:       []string{"XX000", codes.Internal.String()},
		codePrefix:  []string{"53", "58"},
		contains:    []string{"internal server error", "bad gateway", "service unavailable"},
		match:       func(s signal) bool { return hasHTTPStatus(s, "500", "502", "503") },
	},
}

var unknownRule = rule{
	kind:        KindUnknown,
	severity:    SeverityMedium,
	userMessage: "Something went wrong. Please try again.",
}

// invalidFielder is implemented by payload validation errors that know which
// field was rejected.
type invalidFielder interface {
	InvalidField() string
}

// Classify maps a raw error to a ClassifiedError. An error that is already
// classified is returned unchanged, so classification happens once at the
// store boundary and never downstream.
func Classify(err error, where string) *ClassifiedError {
	if err == nil {
		return nil
	}
	if ce, ok := AsClassified(err); ok {
		return ce
	}

	sig := extract(err)
	matched := unknownRule
	for _, r := range rules {
		if r.matches(sig) {
			matched = r
			break
		}
	}

	ce := &ClassifiedError{
		Kind:        matched.kind,
		Code:        sig.code,
		Message:     sig.message,
		UserMessage: matched.userMessage,
		Retryable:   matched.kind.Retryable(),
		Severity:    matched.severity,
		Context:     where,
		Err:         err,
	}
	if matched.kind == KindValidation {
		ce.Field = sig.field
		if ce.Field == "" {
			ce.Field = fieldFromMessage(sig.message)
		}
		if ce.Field != "" {
			ce.UserMessage = "Invalid value for " + ce.Field + "."
		}
	}
	return ce
}

func extract(err error) signal {
	s := signal{message: err.Error()}

	var pgErr *pgconn.PgError
	var pqErr *pq.Error
	var fielder invalidFielder
	switch {
	case errors.As(err, &pgErr):
		s.code = pgErr.Code
		s.field = pgErr.ColumnName
	case errors.As(err, &pqErr):
		s.code = string(pqErr.Code)
		s.field = pqErr.Column
	case errors.As(err, &fielder):
		s.field = fielder.InvalidField()
	default:
		if st, ok := status.FromError(err); ok && st.Code() != codes.OK && st.Code() != codes.Unknown {
			s.code = st.Code().String()
		}
	}

	s.noRows = errors.Is(err, sql.ErrNoRows)
	s.deadline = errors.Is(err, context.DeadlineExceeded)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		s.deadline = true
	}

	s.lower = strings.ToLower(s.message)
	return s
}

func fieldFromMessage(msg string) string {
	if m := columnRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	if m := fieldRe.FindStringSubmatch(msg); m != nil {
		return m[1]
	}
	return ""
}
