package stages

import (
	"time"

	"github.com/harunnryd/voxbridge/pkg/engine"
)

// Name identifies one conversation stage.
type Name string

const (
	StageIntake      Name = "intake"
	StageMainConvo   Name = "main_convo"
	StageCallSummary Name = "call_summary"
)

func (n Name) String() string { return string(n) }

// Tool names the engine can invoke on the bridge. The set is closed;
// dispatch routes on these exact strings.
const (
	ToolVerify          = "verify"
	ToolScheduleMeeting = "schedule_meeting"
	ToolMoveToMain      = "move_to_main_convo"
	ToolMoveToSummary   = "move_to_call_summary"
	ToolHangUp          = "hangUp"
	ToolQueryCorpus     = "queryCorpus"
)

// Stage is the static configuration active on the engine while the
// conversation is in this stage. Not per-call.
type Stage struct {
	Name         Name
	PromptFn     func(now time.Time) string
	Voice        string
	Tools        []engine.SelectedTool
	Announcement string
}

// Prompt renders the stage's system prompt.
func (s Stage) Prompt() string {
	if s.PromptFn == nil {
		return ""
	}
	return s.PromptFn(time.Now())
}

// Params carries the deployment-specific pieces of the stage table.
type Params struct {
	Voices     map[Name]string
	WebhookURL string
	CorpusID   string
}

// Set is the full stage table for a deployment.
type Set struct {
	stages map[Name]Stage
}

// NewSet builds the stage table. Three stages minimum: intake with
// identity verification, main handling, and the closing summary.
func NewSet(p Params) *Set {
	voice := func(n Name, fallback string) string {
		if v, ok := p.Voices[n]; ok && v != "" {
			return v
		}
		return fallback
	}

	intake := Stage{
		Name:     StageIntake,
		PromptFn: intakePrompt,
		Voice:    voice(StageIntake, "Tanya-English"),
		Tools:    intakeTools(),
	}
	mainConvo := Stage{
		Name:         StageMainConvo,
		PromptFn:     mainConvoPrompt,
		Voice:        voice(StageMainConvo, "Mark"),
		Tools:        mainConvoTools(p),
		Announcement: "You're now speaking with Alex, our senior manager. I've been briefed on your situation. How can I help you today?",
	}
	summary := Stage{
		Name:         StageCallSummary,
		PromptFn:     callSummaryPrompt,
		Voice:        voice(StageCallSummary, "Tanya-English"),
		Tools:        summaryTools(),
		Announcement: "Before we conclude our call, let me summarize what we've discussed and next steps.",
	}

	return &Set{stages: map[Name]Stage{
		StageIntake:      intake,
		StageMainConvo:   mainConvo,
		StageCallSummary: summary,
	}}
}

// Get returns the configuration for a stage name.
func (s *Set) Get(name Name) (Stage, bool) {
	st, ok := s.stages[name]
	return st, ok
}

// Initial is the stage entered at session creation.
func (s *Set) Initial() Stage {
	return s.stages[StageIntake]
}

func intakeTools() []engine.SelectedTool {
	return []engine.SelectedTool{
		{
			TemporaryTool: &engine.TemporaryTool{
				ModelToolName: ToolVerify,
				Description:   "Verify the caller's identity with their full name, date of birth, and policy number.",
				DynamicParameters: []engine.DynamicParameter{
					bodyParam("full_name", "string", "Full name of the caller.", true),
					bodyParam("date_of_birth", "string", "Date of birth, YYYY-MM-DD.", true),
					bodyParam("policy_number", "string", "Policy number on file.", true),
				},
				Timeout: "20s",
				Client:  &engine.ClientTool{},
			},
		},
		{
			TemporaryTool: &engine.TemporaryTool{
				ModelToolName: ToolMoveToMain,
				Description:   "Transfer the call to a manager for detailed handling after verification succeeds.",
				DynamicParameters: []engine.DynamicParameter{
					bodyParamEnum("issue_type", []string{"general_QnA", "schedule_meeting", "billing_questions", "emergency"}, "Type of issue requiring manager assistance.", true),
					bodyParam("issue_details", "string", "Detailed description of the caller's issue.", true),
					bodyParam("customer_name", "string", "Caller's name if available.", false),
				},
				Timeout: "20s",
				Client:  &engine.ClientTool{},
			},
		},
		{
			TemporaryTool: &engine.TemporaryTool{
				ModelToolName: ToolMoveToSummary,
				Description:   "Transition to the call summary stage when the conversation is ready to conclude.",
				Timeout:       "20s",
				Client:        &engine.ClientTool{},
			},
		},
		hangUpTool(),
	}
}

func mainConvoTools(p Params) []engine.SelectedTool {
	tools := []engine.SelectedTool{
		{
			TemporaryTool: &engine.TemporaryTool{
				ModelToolName: ToolScheduleMeeting,
				Description:   "Schedule a follow-up meeting at one of our locations.",
				DynamicParameters: []engine.DynamicParameter{
					bodyParam("name", "string", "Name of the caller.", true),
					bodyParam("email", "string", "Email address for the confirmation.", true),
					bodyParam("purpose", "string", "Purpose of the meeting.", true),
					bodyParam("datetime", "string", "Requested date and time.", true),
					bodyParam("location", "string", "Location or clinic name.", true),
				},
				Timeout: "20s",
				Client:  &engine.ClientTool{},
			},
		},
		{
			TemporaryTool: &engine.TemporaryTool{
				ModelToolName: ToolMoveToSummary,
				Description:   "Transition to the call summary stage when the conversation is ready to conclude.",
				Timeout:       "20s",
				Client:        &engine.ClientTool{},
			},
		},
		hangUpTool(),
	}
	if p.CorpusID != "" {
		tools = append(tools, engine.SelectedTool{
			ToolName: ToolQueryCorpus,
			ParameterOverrides: map[string]any{
				"corpus_id":   p.CorpusID,
				"max_results": 5,
			},
		})
	}
	return tools
}

func summaryTools() []engine.SelectedTool {
	return []engine.SelectedTool{hangUpTool()}
}

func hangUpTool() engine.SelectedTool {
	return engine.SelectedTool{
		TemporaryTool: &engine.TemporaryTool{
			ModelToolName: ToolHangUp,
			Description:   "End the call.",
			Client:        &engine.ClientTool{},
		},
	}
}

func bodyParam(name, typ, description string, required bool) engine.DynamicParameter {
	return engine.DynamicParameter{
		Name:     name,
		Location: engine.ParameterLocationBody,
		Schema: map[string]any{
			"type":        typ,
			"description": description,
		},
		Required: required,
	}
}

func bodyParamEnum(name string, values []string, description string, required bool) engine.DynamicParameter {
	return engine.DynamicParameter{
		Name:     name,
		Location: engine.ParameterLocationBody,
		Schema: map[string]any{
			"type":        "string",
			"enum":        values,
			"description": description,
		},
		Required: required,
	}
}
