package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/engine"
	"goa.design/checkin/runtime/checkin/rule"
	"goa.design/checkin/runtime/checkin/signal"
	"goa.design/checkin/runtime/checkin/store/inmem"
)

var testNow = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func newTestTools(t *testing.T) *Tools {
	t.Helper()
	r, ok := rule.DefaultCatalog().Lookup("step_nudge_afternoon")
	require.True(t, ok)
	seq := 0
	eng, err := engine.New(engine.Options{
		Store:    inmem.New(),
		Source:   signal.NewStaticSource(func() time.Time { return testNow }, signal.NewSteps(testNow, 1500, 8000)),
		Catalog:  rule.Catalog{r},
		Clock:    func() time.Time { return testNow },
		Location: time.UTC,
		NewID: func() string {
			seq++
			return fmt.Sprintf("c%d", seq)
		},
	})
	require.NoError(t, err)
	t.Cleanup(eng.Stop)
	return New(eng)
}

type handler func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error)

func call(t *testing.T, h handler, args map[string]any) (string, bool) {
	t.Helper()
	res, err := h(context.Background(), mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}})
	require.NoError(t, err)
	require.NotNil(t, res)
	require.NotEmpty(t, res.Content)
	text, ok := mcp.AsTextContent(res.Content[0])
	require.True(t, ok)
	return text.Text, res.IsError
}

func decode[T any](t *testing.T, text string) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal([]byte(text), &v))
	return v
}

func TestRunCheckAndRespond(t *testing.T) {
	tl := newTestTools(t)

	text, isErr := call(t, tl.ListPending, nil)
	require.False(t, isErr)
	require.Equal(t, "[]", text)

	text, isErr = call(t, tl.RunCheck, nil)
	require.False(t, isErr)
	created := decode[[]checkin.CheckIn](t, text)
	require.Len(t, created, 1)
	require.Equal(t, "c1", created[0].ID)
	require.Equal(t, checkin.KindStepNudge, created[0].Type)

	text, _ = call(t, tl.ListPending, nil)
	require.Len(t, decode[[]checkin.CheckIn](t, text), 1)

	text, isErr = call(t, tl.Respond, map[string]any{"checkin_id": "c1", "action_id": "going_now"})
	require.False(t, isErr, text)
	res := decode[engine.RespondResult](t, text)
	require.True(t, res.Success)
	require.NotEmpty(t, res.FollowUp)

	text, isErr = call(t, tl.Respond, map[string]any{"checkin_id": "c1", "action_id": "going_now"})
	require.True(t, isErr)
	require.Equal(t, engine.ReasonAlreadyResponded, text)

	text, _ = call(t, tl.ListPending, nil)
	require.Equal(t, "[]", text)
}

func TestRespondRequiresArguments(t *testing.T) {
	tl := newTestTools(t)
	text, isErr := call(t, tl.Respond, map[string]any{"checkin_id": "c1"})
	require.True(t, isErr)
	require.Equal(t, "checkin_id and action_id are required", text)
}

func TestDismissAndSnooze(t *testing.T) {
	tl := newTestTools(t)
	_, _ = call(t, tl.RunCheck, nil)

	text, isErr := call(t, tl.Snooze, map[string]any{"checkin_id": "c1", "minutes": 0})
	require.True(t, isErr)
	require.Equal(t, "minutes must be positive", text)

	text, isErr = call(t, tl.Snooze, map[string]any{"checkin_id": "c1", "minutes": 30})
	require.False(t, isErr)
	require.Equal(t, "check-in c1 snoozed for 30 minutes", text)

	text, isErr = call(t, tl.Dismiss, map[string]any{"checkin_id": "c1"})
	require.False(t, isErr)
	require.Equal(t, "check-in c1 dismissed", text)

	text, isErr = call(t, tl.Dismiss, map[string]any{"checkin_id": "c1"})
	require.True(t, isErr)
	require.Equal(t, `check-in "c1" is not pending`, text)
}

func TestUpdatePreferences(t *testing.T) {
	tl := newTestTools(t)

	text, isErr := call(t, tl.UpdatePreferences, map[string]any{
		"quiet_hours_start":  21,
		"max_nudges_per_day": 2,
		"categories":         map[string]any{"weather": false},
	})
	require.False(t, isErr, text)
	prefs := decode[checkin.Preferences](t, text)
	require.Equal(t, 21, prefs.QuietHours.StartHour)
	require.Equal(t, 7, prefs.QuietHours.EndHour)
	require.True(t, prefs.QuietHours.Enabled)
	require.Equal(t, 2, prefs.MaxNudgesPerDay)
	require.False(t, prefs.Categories[checkin.CategoryWeather])

	text, _ = call(t, tl.GetPreferences, nil)
	require.Equal(t, 2, decode[checkin.Preferences](t, text).MaxNudgesPerDay)

	text, isErr = call(t, tl.UpdatePreferences, map[string]any{"categories": map[string]any{"gardening": true}})
	require.True(t, isErr)
	require.Equal(t, `unknown category "gardening"`, text)

	_, isErr = call(t, tl.UpdatePreferences, map[string]any{"max_nudges_per_day": -1})
	require.True(t, isErr)
}

func TestGetState(t *testing.T) {
	tl := newTestTools(t)
	_, _ = call(t, tl.RunCheck, nil)
	text, isErr := call(t, tl.GetState, nil)
	require.False(t, isErr)
	state := decode[checkin.EngineState](t, text)
	require.Equal(t, 1, state.TodayCount)
	require.True(t, testNow.Equal(state.LastCheck))
}

func TestRules(t *testing.T) {
	tl := newTestTools(t)
	text, isErr := call(t, tl.ListRules, nil)
	require.False(t, isErr)
	var rules []struct {
		ID         string   `json:"id"`
		Enabled    bool     `json:"enabled"`
		Cooldown   string   `json:"cooldown"`
		Conditions []string `json:"conditions"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &rules))
	require.Len(t, rules, 1)
	require.Equal(t, "step_nudge_afternoon", rules[0].ID)
	require.True(t, rules[0].Enabled)
	require.Equal(t, "3h0m0s", rules[0].Cooldown)
	require.Equal(t, []string{"steps.current lt 3000"}, rules[0].Conditions)

	text, isErr = call(t, tl.SetRuleEnabled, map[string]any{"rule_id": "step_nudge_afternoon", "enabled": false})
	require.False(t, isErr)
	require.Equal(t, "rule step_nudge_afternoon disabled", text)

	text, isErr = call(t, tl.RunCheck, nil)
	require.False(t, isErr)
	require.Equal(t, "[]", text)

	text, isErr = call(t, tl.SetRuleEnabled, map[string]any{"rule_id": "nope", "enabled": true})
	require.True(t, isErr)
	require.Equal(t, `unknown rule "nope"`, text)
}

func TestSetAppState(t *testing.T) {
	tl := newTestTools(t)

	text, isErr := call(t, tl.SetAppState, map[string]any{"state": "foreground"})
	require.False(t, isErr)
	require.Equal(t, "[]", text, "foreground without a prior background does not tick")

	text, isErr = call(t, tl.SetAppState, map[string]any{"state": "background"})
	require.False(t, isErr)
	require.Equal(t, "app in background", text)

	text, isErr = call(t, tl.SetAppState, map[string]any{"state": "foreground"})
	require.False(t, isErr)
	created := decode[[]checkin.CheckIn](t, text)
	require.Len(t, created, 1)
	require.Equal(t, checkin.KindStepNudge, created[0].Type)

	text, isErr = call(t, tl.SetAppState, map[string]any{"state": "asleep"})
	require.True(t, isErr)
	require.Equal(t, `state must be "foreground" or "background"`, text)
}

func TestNewServerRegistersTools(t *testing.T) {
	r, _ := rule.DefaultCatalog().Lookup("step_nudge_afternoon")
	eng, err := engine.New(engine.Options{Store: inmem.New(), Source: signal.NewStaticSource(nil), Catalog: rule.Catalog{r}})
	require.NoError(t, err)
	s := NewServer(eng, "test")
	tools := s.ListTools()
	for _, name := range []string{
		ToolListPending, ToolRespond, ToolDismiss, ToolSnooze, ToolGetPreferences,
		ToolUpdatePreferences, ToolGetState, ToolRunCheck, ToolListRules, ToolSetRuleEnabled,
		ToolSetAppState,
	} {
		require.Contains(t, tools, name)
	}
}
