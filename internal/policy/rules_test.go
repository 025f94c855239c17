package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/authgate/mfasrv/internal/model"
)

func baseContext() *model.AuthenticationContext {
	return &model.AuthenticationContext{
		UserName:       "CORP\\Alice",
		UserGroups:     []string{"Domain Admins", "VPN Users"},
		SourceIP:       "10.20.30.40",
		UserOU:         "CN=Alice,OU=Engineering,DC=corp,DC=example",
		TargetResource: "fileserver01.corp.example",
		Protocol:       "kerberos",
		Timestamp:      time.Date(2026, 3, 10, 14, 30, 0, 0, time.Local),
	}
}

func TestStringOperators(t *testing.T) {
	cases := []struct {
		name string
		rule model.Rule
		want bool
	}{
		{"equals case-insensitive", model.Rule{RuleType: model.RuleSourceUser, Operator: model.OpEquals, Value: "corp\\alice"}, true},
		{"equals mismatch", model.Rule{RuleType: model.RuleSourceUser, Operator: model.OpEquals, Value: "corp\\bob"}, false},
		{"contains", model.Rule{RuleType: model.RuleSourceOU, Operator: model.OpContains, Value: "ou=engineering"}, true},
		{"starts_with", model.Rule{RuleType: model.RuleTargetResource, Operator: model.OpStartsWith, Value: "FILESERVER"}, true},
		{"ends_with", model.Rule{RuleType: model.RuleTargetResource, Operator: model.OpEndsWith, Value: ".corp.example"}, true},
		{"regex", model.Rule{RuleType: model.RuleSourceUser, Operator: model.OpRegex, Value: `^corp\\\w+$`}, true},
		{"protocol equals", model.Rule{RuleType: model.RuleAuthProtocol, Operator: model.OpEquals, Value: "KERBEROS"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := RuleMatches(&tc.rule, baseContext())
			assert.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGroupRuleMatchesAnyMembership(t *testing.T) {
	r := &model.Rule{RuleType: model.RuleSourceGroup, Operator: model.OpEquals, Value: "vpn users"}
	got, err := RuleMatches(r, baseContext())
	assert.NoError(t, err)
	assert.True(t, got)

	r.Value = "Accounting"
	got, err = RuleMatches(r, baseContext())
	assert.NoError(t, err)
	assert.False(t, got)
}

func TestIPRule(t *testing.T) {
	cases := []struct {
		value string
		ip    string
		want  bool
	}{
		{"10.20.30.40", "10.20.30.40", true},
		{"10.20.30.41", "10.20.30.40", false},
		{"10.20.0.0/16", "10.20.30.40", true},
		{"10.21.0.0/16", "10.20.30.40", false},
		{"10.20.0.0/16", "", false},
	}
	for _, tc := range cases {
		actx := baseContext()
		actx.SourceIP = tc.ip
		r := &model.Rule{RuleType: model.RuleSourceIP, Value: tc.value}
		got, err := RuleMatches(r, actx)
		assert.NoError(t, err)
		assert.Equal(t, tc.want, got, "value=%s ip=%s", tc.value, tc.ip)
	}
}

func TestIPRuleBadValue(t *testing.T) {
	r := &model.Rule{RuleType: model.RuleSourceIP, Value: "not-an-ip"}
	_, err := RuleMatches(r, baseContext())
	assert.Error(t, err)

	r.Value = "10.0.0.0/99"
	_, err = RuleMatches(r, baseContext())
	assert.Error(t, err)
}

func TestTimeWindowRule(t *testing.T) {
	r := &model.Rule{RuleType: model.RuleTimeWindow, Value: "09:00-17:00"}
	actx := baseContext() // 14:30 local

	got, err := RuleMatches(r, actx)
	assert.NoError(t, err)
	assert.True(t, got)

	actx.Timestamp = time.Date(2026, 3, 10, 18, 0, 0, 0, time.Local)
	got, err = RuleMatches(r, actx)
	assert.NoError(t, err)
	assert.False(t, got)
}

func TestTimeWindowWrapsMidnight(t *testing.T) {
	r := &model.Rule{RuleType: model.RuleTimeWindow, Value: "22:00-06:00"}
	actx := baseContext()

	actx.Timestamp = time.Date(2026, 3, 10, 23, 15, 0, 0, time.Local)
	got, err := RuleMatches(r, actx)
	assert.NoError(t, err)
	assert.True(t, got)

	actx.Timestamp = time.Date(2026, 3, 10, 3, 0, 0, 0, time.Local)
	got, err = RuleMatches(r, actx)
	assert.NoError(t, err)
	assert.True(t, got)

	actx.Timestamp = time.Date(2026, 3, 10, 12, 0, 0, 0, time.Local)
	got, err = RuleMatches(r, actx)
	assert.NoError(t, err)
	assert.False(t, got)
}

func TestTimeWindowBadValue(t *testing.T) {
	for _, v := range []string{"", "9-17", "25:00-06:00", "09:61-17:00", "09:00"} {
		r := &model.Rule{RuleType: model.RuleTimeWindow, Value: v}
		_, err := RuleMatches(r, baseContext())
		assert.Error(t, err, "value %q", v)
	}
}

func TestRiskScoreNeverMatches(t *testing.T) {
	r := &model.Rule{RuleType: model.RuleRiskScore, Operator: model.OpEquals, Value: "high"}
	got, err := RuleMatches(r, baseContext())
	assert.NoError(t, err)
	assert.False(t, got)
}

func TestUnknownRuleType(t *testing.T) {
	r := &model.Rule{RuleType: "geo_fence"}
	_, err := RuleMatches(r, baseContext())
	assert.Error(t, err)
}

func TestBadRegexErrors(t *testing.T) {
	r := &model.Rule{RuleType: model.RuleSourceUser, Operator: model.OpRegex, Value: "("}
	_, err := RuleMatches(r, baseContext())
	assert.Error(t, err)
}
