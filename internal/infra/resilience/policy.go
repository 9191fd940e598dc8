package resilience

import "time"

// OpClass names a family of operations that share a retry policy and a
// circuit breaker.
type OpClass string

const (
	ClassRead        OpClass = "read"
	ClassWrite       OpClass = "write"
	ClassAuth        OpClass = "auth"
	ClassRateLimited OpClass = "rate_limited"
	ClassCritical    OpClass = "critical"
)

// Policy defines retry behavior for one operation class. Policies are
// values; copy and modify rather than share and mutate.
type Policy struct {
	Name              string
	MaxRetries        int
	BaseDelay         time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	Jitter            bool

	// RetryPredicate decides whether a classified failure is retried.
	// Nil means "retry when the error is retryable".
	RetryPredicate func(*ClassifiedError) bool
}

// ShouldRetry applies the policy predicate to ce.
func (p Policy) ShouldRetry(ce *ClassifiedError) bool {
	if ce == nil {
		return false
	}
	if p.RetryPredicate == nil {
		return ce.Retryable
	}
	return p.RetryPredicate(ce)
}

// normalized fills zero values with safe defaults.
func (p Policy) normalized() Policy {
	if p.MaxRetries < 0 {
		p.MaxRetries = 0
	}
	if p.BackoffMultiplier < 1 {
		p.BackoffMultiplier = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// RetryOnKinds returns a predicate that retries only the listed kinds.
func RetryOnKinds(kinds ...Kind) func(*ClassifiedError) bool {
	return func(ce *ClassifiedError) bool {
		for _, k := range kinds {
			if ce.Kind == k {
				return true
			}
		}
		return false
	}
}

// Policies maps operation classes to their retry policy.
type Policies map[OpClass]Policy

// For returns the policy for class, falling back to the read policy.
func (p Policies) For(class OpClass) Policy {
	if pol, ok := p[class]; ok {
		return pol
	}
	if pol, ok := p[ClassRead]; ok {
		return pol
	}
	return DefaultPolicies()[ClassRead]
}

// DefaultPolicies returns the built-in policy per operation class.
func DefaultPolicies() Policies {
	return Policies{
		ClassRead: {
			Name:              string(ClassRead),
			MaxRetries:        3,
			BaseDelay:         1 * time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
			Jitter:            true,
		},
		ClassWrite: {
			Name:              string(ClassWrite),
			MaxRetries:        2,
			BaseDelay:         1500 * time.Millisecond,
			MaxDelay:          8 * time.Second,
			BackoffMultiplier: 2,
			Jitter:            true,
			RetryPredicate:    RetryOnKinds(KindNetwork, KindTimeout, KindConnection),
		},
		ClassAuth: {
			Name:              string(ClassAuth),
			MaxRetries:        2,
			BaseDelay:         2 * time.Second,
			MaxDelay:          10 * time.Second,
			BackoffMultiplier: 2,
			Jitter:            true,
			RetryPredicate:    RetryOnKinds(KindNetwork),
		},
		ClassRateLimited: {
			Name:              string(ClassRateLimited),
			MaxRetries:        5,
			BaseDelay:         5 * time.Second,
			MaxDelay:          60 * time.Second,
			BackoffMultiplier: 2,
			Jitter:            true,
		},
		ClassCritical: {
			Name:              string(ClassCritical),
			MaxRetries:        5,
			BaseDelay:         500 * time.Millisecond,
			MaxDelay:          30 * time.Second,
			BackoffMultiplier: 1.5,
			Jitter:            true,
		},
	}
}
