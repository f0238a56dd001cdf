package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQuery(t *testing.T) {
	tests := []struct {
		raw     string
		want    Query
		wantErr bool
	}{
		{raw: "css:#identifierId", want: CSS("#identifierId")},
		{raw: "  xpath://input[@type='email'] ", want: XPath("//input[@type='email']")},
		{raw: "text:button::^Send$", want: Text("button", "^Send$")},
		{raw: "css:a:hover", want: CSS("a:hover")},
		{raw: "#identifierId", wantErr: true},
		{raw: "css:", wantErr: true},
		{raw: "text:button", wantErr: true},
		{raw: "text:::^Send$", wantErr: true},
		{raw: "id:email", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			q, err := ParseQuery(tt.raw)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, q)
		})
	}
}

func TestQueryString(t *testing.T) {
	assert.Equal(t, "css:#send", CSS("#send").String())
	assert.Equal(t, "xpath://button", XPath("//button").String())
	assert.Equal(t, "text:button::Send", Text("button", "Send").String())

	q, err := ParseQuery(Text("div", "^Sent$").String())
	require.NoError(t, err)
	assert.Equal(t, Text("div", "^Sent$"), q)
}

func TestLocator(t *testing.T) {
	_, err := NewLocator("send_button")
	assert.Error(t, err, "empty candidate list")

	_, err = NewLocator("send_button", CSS(""))
	assert.Error(t, err, "empty selector")

	queries := []Query{CSS("#send"), XPath("//button[@aria-label='Send']")}
	loc, err := NewLocator("send_button", queries...)
	require.NoError(t, err)
	assert.Equal(t, "send_button", loc.Name())
	assert.Equal(t, 2, loc.Len())
	assert.False(t, loc.IsZero())

	// 构造后不受外部修改影响
	queries[0] = CSS("#other")
	got := loc.Queries()
	assert.Equal(t, CSS("#send"), got[0])
	got[1] = CSS("#mutated")
	assert.Equal(t, XPath("//button[@aria-label='Send']"), loc.Queries()[1])

	assert.True(t, Locator{}.IsZero())
	assert.Panics(t, func() { MustLocator("empty") })
}

func TestParseLocator(t *testing.T) {
	loc, err := ParseLocator("message_field", []string{"css:textarea", "text:div::Type a message"})
	require.NoError(t, err)
	assert.Equal(t, []Query{CSS("textarea"), Text("div", "Type a message")}, loc.Queries())

	_, err = ParseLocator("message_field", []string{"css:textarea", "bogus"})
	assert.ErrorContains(t, err, "message_field")

	_, err = ParseLocator("message_field", nil)
	assert.Error(t, err)
}

func TestAuthStateText(t *testing.T) {
	for state := AuthInit; state <= AuthFailed; state++ {
		text, err := state.MarshalText()
		require.NoError(t, err)

		var back AuthState
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, state, back)
	}

	unknown := AuthVerifying
	assert.ErrorContains(t, unknown.UnmarshalText([]byte("teleported")), "teleported")
	assert.Equal(t, AuthVerifying, unknown, "state is left untouched")

	var outcome AuthOutcome
	assert.Error(t, json.Unmarshal([]byte(`{"state":"corrupted"}`), &outcome))
	assert.Equal(t, "unknown", AuthState(99).String())
}

func TestAuthStateTerminal(t *testing.T) {
	terminal := map[AuthState]bool{
		AuthAuthenticated:    true,
		AuthChallengeBlocked: true,
		AuthFailed:           true,
	}
	for state := AuthInit; state <= AuthFailed; state++ {
		assert.Equal(t, terminal[state], state.IsTerminal(), state.String())
	}
}

func TestAuthOutcomeJSON(t *testing.T) {
	outcome := &AuthOutcome{
		State:       AuthChallengeBlocked,
		Reason:      "verification page",
		Transitions: []StateTransition{{From: AuthAwaitingPassword, To: AuthChallengeBlocked}},
	}
	data, err := json.Marshal(outcome)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"state":"challenge_blocked"`)
	assert.Contains(t, string(data), `"from":"awaiting_password"`)

	assert.False(t, outcome.Authenticated())
	assert.True(t, (&AuthOutcome{State: AuthAuthenticated}).Authenticated())
	assert.False(t, (*AuthOutcome)(nil).Authenticated())
}

func TestDeliveryReportCounts(t *testing.T) {
	report := DeliveryReport{
		{Destination: "+15551234567", Outcome: OutcomeSent},
		{Destination: "+15559876543", Outcome: OutcomeSent, Unconfirmed: true},
		{Destination: "+15550000000", Outcome: OutcomeFailed, Reason: "message field not found"},
	}
	assert.Equal(t, 2, report.SentCount())
	assert.Equal(t, 1, report.FailedCount())
	assert.Equal(t, 1, report.UnconfirmedCount())

	var empty DeliveryReport
	assert.Equal(t, 0, empty.SentCount())
	assert.Equal(t, 0, empty.FailedCount())
}
