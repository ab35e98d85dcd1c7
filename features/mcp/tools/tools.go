// Package tools exposes the check-in engine as MCP tools so assistants and
// companion UIs can list, answer and tune proactive check-ins. Every tool
// returns JSON text; argument errors are reported as tool errors rather than
// protocol errors.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"goa.design/checkin/runtime/checkin"
	"goa.design/checkin/runtime/checkin/engine"
	"goa.design/checkin/runtime/checkin/rule"
)

// Tool names.
const (
	ToolListPending       = "list_pending_checkins"
	ToolRespond           = "respond_to_checkin"
	ToolDismiss           = "dismiss_checkin"
	ToolSnooze            = "snooze_checkin"
	ToolGetPreferences    = "get_checkin_preferences"
	ToolUpdatePreferences = "update_checkin_preferences"
	ToolGetState          = "get_checkin_state"
	ToolRunCheck          = "run_checkin"
	ToolListRules         = "list_checkin_rules"
	ToolSetRuleEnabled    = "set_checkin_rule_enabled"
	ToolSetAppState       = "set_app_state"
)

// App states accepted by set_app_state.
const (
	AppForeground = "foreground"
	AppBackground = "background"
)

type (
	// Engine is the subset of *engine.Engine the tools drive.
	Engine interface {
		Pending() []checkin.CheckIn
		Respond(ctx context.Context, id, actionID string) engine.RespondResult
		Dismiss(ctx context.Context, id string) bool
		Snooze(ctx context.Context, id string, minutes int) bool
		Preferences() checkin.Preferences
		UpdatePreferences(ctx context.Context, patch checkin.PreferencesPatch) (checkin.Preferences, error)
		State() checkin.EngineState
		RunCheck(ctx context.Context, trigger engine.Trigger) ([]checkin.CheckIn, error)
		Catalog() rule.Catalog
		EnableRule(id string, enabled bool) error
		Foreground(ctx context.Context) ([]checkin.CheckIn, error)
		Background()
	}

	// Tools binds MCP handlers to an engine.
	Tools struct {
		engine Engine
	}

	// RespondArgs are the respond_to_checkin arguments.
	RespondArgs struct {
		CheckInID string `json:"checkin_id" jsonschema:"required,description=Identifier of the pending check-in"`
		ActionID  string `json:"action_id" jsonschema:"required,description=Identifier of one of the check-in actions"`
	}

	// DismissArgs are the dismiss_checkin arguments.
	DismissArgs struct {
		CheckInID string `json:"checkin_id" jsonschema:"required,description=Identifier of the pending check-in"`
	}

	// SnoozeArgs are the snooze_checkin arguments.
	SnoozeArgs struct {
		CheckInID string `json:"checkin_id" jsonschema:"required,description=Identifier of the pending check-in"`
		Minutes   int    `json:"minutes" jsonschema:"required,minimum=1,maximum=1440,description=Delay before the check-in is shown again"`
	}

	// UpdatePreferencesArgs are the update_checkin_preferences arguments.
	// Omitted fields are left unchanged.
	UpdatePreferencesArgs struct {
		Enabled                 *bool           `json:"enabled,omitempty" jsonschema:"description=Turn proactive check-ins on or off"`
		Categories              map[string]bool `json:"categories,omitempty" jsonschema:"description=Per category toggles (activity, weather, medication, calendar, wellbeing, safety)"`
		QuietHoursEnabled       *bool           `json:"quiet_hours_enabled,omitempty"`
		QuietHoursStart         *int            `json:"quiet_hours_start,omitempty" jsonschema:"minimum=0,maximum=23"`
		QuietHoursEnd           *int            `json:"quiet_hours_end,omitempty" jsonschema:"minimum=0,maximum=23"`
		MaxNudgesPerDay         *int            `json:"max_nudges_per_day,omitempty" jsonschema:"minimum=0"`
		ConcerningPatternAlerts *bool           `json:"concerning_pattern_alerts,omitempty"`
	}

	// SetRuleEnabledArgs are the set_checkin_rule_enabled arguments.
	SetRuleEnabledArgs struct {
		RuleID  string `json:"rule_id" jsonschema:"required"`
		Enabled bool   `json:"enabled"`
	}

	// SetAppStateArgs are the set_app_state arguments.
	SetAppStateArgs struct {
		State string `json:"state" jsonschema:"required,enum=foreground,enum=background,description=Whether the companion app is visible to the user"`
	}

	// ruleView is the list_checkin_rules entry.
	ruleView struct {
		ID         string           `json:"id"`
		Name       string           `json:"name,omitempty"`
		Type       checkin.Kind     `json:"type"`
		Category   checkin.Category `json:"category,omitempty"`
		Priority   checkin.Priority `json:"priority"`
		Enabled    bool             `json:"enabled"`
		Conditions []string         `json:"conditions,omitempty"`
		Cooldown   string           `json:"cooldown,omitempty"`
		MaxPerDay  int              `json:"maxPerDay,omitempty"`
		Window     *rule.Window     `json:"window,omitempty"`
	}
)

// New returns the tool handlers for eng.
func New(eng Engine) *Tools {
	return &Tools{engine: eng}
}

// NewServer returns an MCP server exposing every check-in tool.
func NewServer(eng Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"checkin",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions("Tools to review and answer proactive wellbeing check-ins and tune when they are sent."),
	)
	New(eng).Register(s)
	return s
}

// Register adds the tools to s.
func (t *Tools) Register(s *server.MCPServer) {
	s.AddTool(mcp.NewTool(ToolListPending,
		mcp.WithDescription("List check-ins waiting for an answer, newest first."),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.ListPending)
	s.AddTool(mcp.NewTool(ToolRespond,
		mcp.WithDescription("Answer a pending check-in with one of its actions. Returns a short follow-up message."),
		mcp.WithInputSchema[RespondArgs](),
	), t.Respond)
	s.AddTool(mcp.NewTool(ToolDismiss,
		mcp.WithDescription("Dismiss a pending check-in without answering."),
		mcp.WithInputSchema[DismissArgs](),
	), t.Dismiss)
	s.AddTool(mcp.NewTool(ToolSnooze,
		mcp.WithDescription("Snooze a pending check-in and remind the user later."),
		mcp.WithInputSchema[SnoozeArgs](),
	), t.Snooze)
	s.AddTool(mcp.NewTool(ToolGetPreferences,
		mcp.WithDescription("Return the current check-in preferences."),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.GetPreferences)
	s.AddTool(mcp.NewTool(ToolUpdatePreferences,
		mcp.WithDescription("Change check-in preferences. Only the provided fields are updated."),
		mcp.WithInputSchema[UpdatePreferencesArgs](),
	), t.UpdatePreferences)
	s.AddTool(mcp.NewTool(ToolGetState,
		mcp.WithDescription("Return the engine status: running flag, last check time and today's count."),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.GetState)
	s.AddTool(mcp.NewTool(ToolRunCheck,
		mcp.WithDescription("Evaluate the rules now and return the check-ins that were created."),
	), t.RunCheck)
	s.AddTool(mcp.NewTool(ToolListRules,
		mcp.WithDescription("List the check-in rules in evaluation order."),
		mcp.WithReadOnlyHintAnnotation(true),
	), t.ListRules)
	s.AddTool(mcp.NewTool(ToolSetRuleEnabled,
		mcp.WithDescription("Enable or disable a single check-in rule."),
		mcp.WithInputSchema[SetRuleEnabledArgs](),
	), t.SetRuleEnabled)
	s.AddTool(mcp.NewTool(ToolSetAppState,
		mcp.WithDescription("Report that the companion app moved to the foreground or background. Coming back to the foreground runs a check and returns the check-ins it created."),
		mcp.WithInputSchema[SetAppStateArgs](),
	), t.SetAppState)
}

func (t *Tools) ListPending(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	pending := t.engine.Pending()
	if pending == nil {
		pending = []checkin.CheckIn{}
	}
	return jsonResult(pending)
}

func (t *Tools) Respond(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args RespondArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.CheckInID == "" || args.ActionID == "" {
		return mcp.NewToolResultError("checkin_id and action_id are required"), nil
	}
	res := t.engine.Respond(ctx, args.CheckInID, args.ActionID)
	if !res.Success {
		return mcp.NewToolResultError(res.Reason), nil
	}
	return jsonResult(res)
}

func (t *Tools) Dismiss(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args DismissArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if !t.engine.Dismiss(ctx, args.CheckInID) {
		return mcp.NewToolResultError(fmt.Sprintf("check-in %q is not pending", args.CheckInID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("check-in %s dismissed", args.CheckInID)), nil
}

func (t *Tools) Snooze(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SnoozeArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if args.Minutes <= 0 {
		return mcp.NewToolResultError("minutes must be positive"), nil
	}
	if !t.engine.Snooze(ctx, args.CheckInID, args.Minutes) {
		return mcp.NewToolResultError(fmt.Sprintf("check-in %q is not pending", args.CheckInID)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("check-in %s snoozed for %d minutes", args.CheckInID, args.Minutes)), nil
}

func (t *Tools) GetPreferences(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.engine.Preferences())
}

func (t *Tools) UpdatePreferences(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args UpdatePreferencesArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	patch, err := args.patch(t.engine.Preferences())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	prefs, err := t.engine.UpdatePreferences(ctx, patch)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(prefs)
}

func (t *Tools) GetState(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(t.engine.State())
}

func (t *Tools) RunCheck(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	created, err := t.engine.RunCheck(ctx, engine.TriggerManual)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if created == nil {
		created = []checkin.CheckIn{}
	}
	return jsonResult(created)
}

func (t *Tools) ListRules(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cat := t.engine.Catalog()
	out := make([]ruleView, 0, len(cat))
	for _, r := range cat {
		v := ruleView{
			ID:        r.ID,
			Name:      r.Name,
			Type:      r.Type,
			Category:  r.Category,
			Priority:  r.Priority,
			Enabled:   r.Enabled,
			MaxPerDay: r.MaxPerDay,
			Window:    r.Window,
		}
		if r.Cooldown > 0 {
			v.Cooldown = r.Cooldown.String()
		}
		for _, c := range r.Conditions {
			v.Conditions = append(v.Conditions, c.String())
		}
		out = append(out, v)
	}
	return jsonResult(out)
}

func (t *Tools) SetRuleEnabled(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SetRuleEnabledArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	if err := t.engine.EnableRule(args.RuleID, args.Enabled); err != nil {
		if errors.Is(err, rule.ErrUnknownRule) {
			return mcp.NewToolResultError(fmt.Sprintf("unknown rule %q", args.RuleID)), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	state := "disabled"
	if args.Enabled {
		state = "enabled"
	}
	return mcp.NewToolResultText(fmt.Sprintf("rule %s %s", args.RuleID, state)), nil
}

func (t *Tools) SetAppState(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args SetAppStateArgs
	if err := req.BindArguments(&args); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("invalid arguments: %v", err)), nil
	}
	switch args.State {
	case AppBackground:
		t.engine.Background()
		return mcp.NewToolResultText("app in background"), nil
	case AppForeground:
		created, err := t.engine.Foreground(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if created == nil {
			created = []checkin.CheckIn{}
		}
		return jsonResult(created)
	default:
		return mcp.NewToolResultError(fmt.Sprintf("state must be %q or %q", AppForeground, AppBackground)), nil
	}
}

// patch converts the flat arguments. Quiet hour fields are merged onto the
// current window since the engine replaces it as a whole.
func (a UpdatePreferencesArgs) patch(current checkin.Preferences) (checkin.PreferencesPatch, error) {
	p := checkin.PreferencesPatch{
		Enabled:                 a.Enabled,
		MaxNudgesPerDay:         a.MaxNudgesPerDay,
		ConcerningPatternAlerts: a.ConcerningPatternAlerts,
	}
	if len(a.Categories) > 0 {
		p.Categories = make(map[checkin.Category]bool, len(a.Categories))
		for name, on := range a.Categories {
			cat := checkin.Category(name)
			if !cat.Valid() {
				return checkin.PreferencesPatch{}, fmt.Errorf("unknown category %q", name)
			}
			p.Categories[cat] = on
		}
	}
	if a.QuietHoursEnabled != nil || a.QuietHoursStart != nil || a.QuietHoursEnd != nil {
		qh := current.QuietHours
		if a.QuietHoursEnabled != nil {
			qh.Enabled = *a.QuietHoursEnabled
		}
		if a.QuietHoursStart != nil {
			qh.StartHour = *a.QuietHoursStart
		}
		if a.QuietHoursEnd != nil {
			qh.EndHour = *a.QuietHoursEnd
		}
		p.QuietHours = &qh
	}
	return p, nil
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(b)), nil
}
