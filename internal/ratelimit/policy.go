// Package ratelimit schedules HTTP requests against server-announced rate
// limit policies. Each policy gets a Manager that sends at most one request
// at a time; the Limiter discovers which policy governs an endpoint.
package ratelimit

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	// BorderlineRequestBuffer is how many hits short of a limit a rule is
	// considered borderline.
	BorderlineRequestBuffer = 2

	// SafetyBuffer is added to every computed safe send time.
	SafetyBuffer = 1 * time.Second
)

const (
	headerPolicy = "X-Rate-Limit-Policy"
	headerRules  = "X-Rate-Limit-Rules"
	headerPrefix = "X-Rate-Limit-"
	stateSuffix  = "-State"
)

// PolicyStatus is ordered by severity.
type PolicyStatus int

const (
	StatusUnknown PolicyStatus = iota
	StatusOK
	StatusBorderline
	StatusViolation
	StatusInvalid
)

func (s PolicyStatus) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusBorderline:
		return "BORDERLINE"
	case StatusViolation:
		return "VIOLATION"
	case StatusInvalid:
		return "INVALID"
	default:
		return "UNKNOWN"
	}
}

func (s PolicyStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// MalformedPolicyError reports missing or unparsable rate limit headers.
type MalformedPolicyError struct {
	Header string
	Reason string
}

func (e *MalformedPolicyError) Error() string {
	return fmt.Sprintf("malformed rate limit policy: %s: %s", e.Header, e.Reason)
}

// RuleItemData is one "hits:period:restriction" triplet.
type RuleItemData struct {
	Hits        int `json:"hits"`
	Period      int `json:"period"`
	Restriction int `json:"restriction"`
}

func (d RuleItemData) String() string {
	return fmt.Sprintf("%d:%d:%d", d.Hits, d.Period, d.Restriction)
}

// RuleItem pairs a limit with the server's current state for it.
type RuleItem struct {
	Limit RuleItemData `json:"limit"`
	State RuleItemData `json:"state"`
}

func (i RuleItem) String() string {
	return fmt.Sprintf("%d/%d:%d:%d", i.State.Hits, i.Limit.Hits, i.Limit.Period, i.Limit.Restriction)
}

// nearLimit reports whether the next hit would bring the item into the
// borderline band.
func (i RuleItem) nearLimit() bool {
	return i.State.Hits >= i.Limit.Hits-BorderlineRequestBuffer
}

// PolicyRule is a named group of rule items.
type PolicyRule struct {
	Name  string     `json:"name"`
	Items []RuleItem `json:"items"`
}

func (r PolicyRule) String() string {
	parts := make([]string, len(r.Items))
	for i, item := range r.Items {
		parts[i] = item.String()
	}
	return r.Name + ": " + strings.Join(parts, ", ")
}

// Policy is a snapshot of one server-side rate limit policy.
type Policy struct {
	Name        string
	Rules       []PolicyRule
	Status      PolicyStatus
	MaxPeriod   int
	MaximumHits int
}

// ParsePolicy builds a policy from reply headers.
func ParsePolicy(h http.Header) (*Policy, error) {
	name := strings.TrimSpace(h.Get(headerPolicy))
	if name == "" {
		return nil, &MalformedPolicyError{Header: headerPolicy, Reason: "missing"}
	}
	ruleNames := splitList(h.Get(headerRules))
	if len(ruleNames) == 0 {
		return nil, &MalformedPolicyError{Header: headerRules, Reason: "missing"}
	}

	p := &Policy{Name: name, Rules: make([]PolicyRule, 0, len(ruleNames))}
	for _, ruleName := range ruleNames {
		limits, err := parseTriplets(h, headerPrefix+ruleName)
		if err != nil {
			return nil, err
		}
		states, err := parseTriplets(h, headerPrefix+ruleName+stateSuffix)
		if err != nil {
			return nil, err
		}
		if len(limits) != len(states) {
			return nil, &MalformedPolicyError{
				Header: headerPrefix + ruleName,
				Reason: fmt.Sprintf("%d limits but %d states", len(limits), len(states)),
			}
		}
		rule := PolicyRule{Name: ruleName, Items: make([]RuleItem, len(limits))}
		for i := range limits {
			rule.Items[i] = RuleItem{Limit: limits[i], State: states[i]}
			if limits[i].Period > p.MaxPeriod {
				p.MaxPeriod = limits[i].Period
			}
			if limits[i].Hits > p.MaximumHits {
				p.MaximumHits = limits[i].Hits
			}
		}
		p.Rules = append(p.Rules, rule)
	}
	p.updateStatus()
	return p, nil
}

func parseTriplets(h http.Header, key string) ([]RuleItemData, error) {
	fragments := splitList(h.Get(key))
	if len(fragments) == 0 {
		return nil, &MalformedPolicyError{Header: key, Reason: "missing"}
	}
	out := make([]RuleItemData, len(fragments))
	for i, frag := range fragments {
		parts := strings.Split(frag, ":")
		if len(parts) != 3 {
			return nil, &MalformedPolicyError{Header: key, Reason: fmt.Sprintf("bad triplet %q", frag)}
		}
		var vals [3]int
		for j, part := range parts {
			n, err := strconv.Atoi(strings.TrimSpace(part))
			if err != nil {
				return nil, &MalformedPolicyError{Header: key, Reason: fmt.Sprintf("bad triplet %q", frag)}
			}
			vals[j] = n
		}
		out[i] = RuleItemData{Hits: vals[0], Period: vals[1], Restriction: vals[2]}
	}
	return out, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// updateStatus derives the policy status as the most severe status of
// any rule item.
func (p *Policy) updateStatus() {
	status := StatusUnknown
	for _, rule := range p.Rules {
		for _, item := range rule.Items {
			s := StatusOK
			switch {
			case item.Limit.Period != item.State.Period:
				s = StatusInvalid
			case item.State.Hits > item.Limit.Hits:
				s = StatusViolation
			case item.nearLimit():
				s = StatusBorderline
			}
			if s > status {
				status = s
			}
		}
	}
	if status == StatusUnknown {
		status = StatusOK
	}
	p.Status = status
}

// Check compares next against p and describes every structural change.
// Differences are expected to be rare and are only worth logging.
func (p *Policy) Check(next *Policy) []string {
	var diffs []string
	if p.Name != next.Name {
		diffs = append(diffs, fmt.Sprintf("policy name changed from %q to %q", p.Name, next.Name))
	}
	if len(p.Rules) != len(next.Rules) {
		return append(diffs, fmt.Sprintf("rule count changed from %d to %d", len(p.Rules), len(next.Rules)))
	}
	for i, rule := range p.Rules {
		other := next.Rules[i]
		if rule.Name != other.Name {
			diffs = append(diffs, fmt.Sprintf("rule %d renamed from %q to %q", i, rule.Name, other.Name))
			continue
		}
		if len(rule.Items) != len(other.Items) {
			diffs = append(diffs, fmt.Sprintf("rule %q item count changed from %d to %d", rule.Name, len(rule.Items), len(other.Items)))
			continue
		}
		for j, item := range rule.Items {
			if item.Limit != other.Items[j].Limit {
				diffs = append(diffs, fmt.Sprintf("rule %q item %d limit changed from %s to %s",
					rule.Name, j, item.Limit, other.Items[j].Limit))
			}
		}
	}
	return diffs
}

// NextSafeSend returns the earliest time a request may be sent without
// risking any rule of p, given the replies recorded in history. The result
// is never before now.
//
// For a rule item close to its limit, the oldest known hit inside the
// window is history[min(hits, len)-1]; once it ages out of the period
// the item has room again.
func (p *Policy) NextSafeSend(history *RequestHistory, now time.Time) time.Time {
	next := now
	if p.Status == StatusOK {
		return next
	}
	for _, rule := range p.Rules {
		for _, item := range rule.Items {
			if !item.nearLimit() {
				continue
			}
			n := item.State.Hits
			if n > history.Len() {
				n = history.Len()
			}
			start := now
			if n >= 1 {
				start = history.At(n - 1)
			}
			candidate := start.Add(time.Duration(item.Limit.Period)*time.Second + SafetyBuffer)
			debugf("[ratelimit] %s %s near limit, safe at %s", p.Name, rule, candidate.Format(time.RFC3339))
			if candidate.After(next) {
				next = candidate
			}
		}
	}
	return next
}

// ViolatedRules lists the rules whose state exceeds their limit.
func (p *Policy) ViolatedRules() []string {
	var out []string
	for _, rule := range p.Rules {
		for _, item := range rule.Items {
			if item.State.Hits > item.Limit.Hits {
				out = append(out, rule.String())
				break
			}
		}
	}
	return out
}

// RuleStrings renders every rule for display.
func (p *Policy) RuleStrings() []string {
	out := make([]string, len(p.Rules))
	for i, rule := range p.Rules {
		out[i] = rule.String()
	}
	return out
}
