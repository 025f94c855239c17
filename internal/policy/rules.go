package policy

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/authgate/mfasrv/internal/model"
)

// RuleMatches evaluates a single rule before negation is applied.
func RuleMatches(r *model.Rule, actx *model.AuthenticationContext) (bool, error) {
	switch r.RuleType {
	case model.RuleSourceUser:
		return matchString(r.Operator, actx.UserName, r.Value)
	case model.RuleSourceGroup:
		for _, g := range actx.UserGroups {
			ok, err := matchString(r.Operator, g, r.Value)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case model.RuleSourceIP:
		return matchIP(actx.SourceIP, r.Value)
	case model.RuleSourceOU:
		return matchString(r.Operator, actx.UserOU, r.Value)
	case model.RuleTargetResource:
		return matchString(r.Operator, actx.TargetResource, r.Value)
	case model.RuleAuthProtocol:
		return matchString(r.Operator, actx.Protocol, r.Value)
	case model.RuleTimeWindow:
		return matchTimeWindow(actx.Timestamp, r.Value)
	case model.RuleRiskScore:
		// No scorer produces this input yet; the rule never matches.
		return false, nil
	default:
		return false, fmt.Errorf("unknown rule type %q", r.RuleType)
	}
}

// matchString applies a case-insensitive string operator.
func matchString(op, subject, value string) (bool, error) {
	s, v := strings.ToLower(subject), strings.ToLower(value)
	switch op {
	case model.OpEquals:
		return s == v, nil
	case model.OpContains:
		return strings.Contains(s, v), nil
	case model.OpStartsWith:
		return strings.HasPrefix(s, v), nil
	case model.OpEndsWith:
		return strings.HasSuffix(s, v), nil
	case model.OpRegex:
		re, err := regexp.Compile("(?i)" + value)
		if err != nil {
			return false, fmt.Errorf("bad regex %q: %w", value, err)
		}
		return re.MatchString(subject), nil
	default:
		return false, fmt.Errorf("unknown operator %q", op)
	}
}

// matchIP interprets value as CIDR when it contains a slash, otherwise as a
// literal address. A context without a source IP matches nothing.
func matchIP(sourceIP, value string) (bool, error) {
	if sourceIP == "" {
		return false, nil
	}
	ip := net.ParseIP(sourceIP)
	if ip == nil {
		return false, nil
	}
	if strings.Contains(value, "/") {
		_, cidr, err := net.ParseCIDR(value)
		if err != nil {
			return false, fmt.Errorf("bad CIDR %q: %w", value, err)
		}
		return cidr.Contains(ip), nil
	}
	literal := net.ParseIP(value)
	if literal == nil {
		return false, fmt.Errorf("bad IP literal %q", value)
	}
	return ip.Equal(literal), nil
}

// matchTimeWindow parses "HH:MM-HH:MM" in the center's local time and tests
// the context timestamp. Windows may wrap midnight (22:00-06:00).
func matchTimeWindow(t time.Time, value string) (bool, error) {
	from, to, err := parseWindow(value)
	if err != nil {
		return false, err
	}
	local := t.Local()
	minutes := local.Hour()*60 + local.Minute()
	if from <= to {
		return minutes >= from && minutes < to, nil
	}
	// Wrap-around window.
	return minutes >= from || minutes < to, nil
}

func parseWindow(value string) (from, to int, err error) {
	parts := strings.SplitN(value, "-", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bad time window %q", value)
	}
	from, err = parseHHMM(parts[0])
	if err != nil {
		return 0, 0, err
	}
	to, err = parseHHMM(parts[1])
	return from, to, err
}

func parseHHMM(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("bad time %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, fmt.Errorf("bad hour %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, fmt.Errorf("bad minute %q", s)
	}
	return h*60 + m, nil
}
