package flow

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentloop/capability"
	"github.com/hupe1980/agentloop/core"
	"github.com/hupe1980/agentloop/internal/testutil"
	"github.com/hupe1980/agentloop/logging"
	"github.com/hupe1980/agentloop/model"
)

func TestTrimTranscript(t *testing.T) {
	turns := testutil.NewConversationBuilder().
		User("q").
		Invoke(testutil.Call("a", "x", "{}"), testutil.Call("b", "x", "{}")).
		Observe("a", "1").
		Observe("b", "2").
		Assistant("done").
		Turns()

	tests := []struct {
		name  string
		max   int
		roles []core.Role
	}{
		{name: "unbounded", max: 0, roles: []core.Role{core.RoleUser, core.RoleAssistant, core.RoleObservation, core.RoleObservation, core.RoleAssistant}},
		{name: "fits", max: 5, roles: []core.Role{core.RoleUser, core.RoleAssistant, core.RoleObservation, core.RoleObservation, core.RoleAssistant}},
		{name: "cut before invocations", max: 4, roles: []core.Role{core.RoleAssistant, core.RoleObservation, core.RoleObservation, core.RoleAssistant}},
		{name: "skip orphaned observations", max: 3, roles: []core.Role{core.RoleAssistant}},
		{name: "last turn", max: 1, roles: []core.Role{core.RoleAssistant}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := trimTranscript(turns, tt.max)

			roles := make([]core.Role, len(got))
			for i, turn := range got {
				roles[i] = turn.Role
			}
			assert.Equal(t, tt.roles, roles)
		})
	}
}

func TestInstructionsProcessor(t *testing.T) {
	runCtx := core.NewRunContext(context.Background(), "", core.NewConversationFromQuery("q"), 0, logging.NoOpLogger{})
	runCtx.SetState("market", "NASDAQ")

	var req model.Request
	require.NoError(t, NewInstructionsProcessor(`Quote {{.market}} prices{{if .currency}} in {{.currency}}{{end}}.`).ProcessRequest(runCtx, &req))
	assert.Equal(t, "Quote NASDAQ prices.", req.Instructions)

	req = model.Request{}
	require.NoError(t, NewInstructionsProcessor("").ProcessRequest(runCtx, &req))
	assert.Empty(t, req.Instructions)

	err := NewInstructionsProcessor("{{.broken").ProcessRequest(runCtx, &req)
	assert.Error(t, err)
}

func TestProcessorErrorAbortsReasoning(t *testing.T) {
	m := model.NewScriptedModelFromMessages(model.Message{Content: "x"})
	r := NewReasoner(m, []RequestProcessor{NewInstructionsProcessor("{{.broken")})

	_, err := r.Step(newRunContext(t, "q", 0), 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request processor instructions failed")
	assert.Zero(t, m.Calls())
}

func TestCapabilitiesProcessor(t *testing.T) {
	reg := capability.NewRegistry([]capability.Capability{closingPriceCapability(), capability.NewScratchpad()})

	var req model.Request
	require.NoError(t, NewCapabilitiesProcessor(reg).ProcessRequest(nil, &req))

	names := make([]string, len(req.Tools))
	for i, d := range req.Tools {
		names[i] = d.Name
	}
	assert.ElementsMatch(t, reg.Names(), names)

	req = model.Request{}
	require.NoError(t, NewCapabilitiesProcessor(nil).ProcessRequest(nil, &req))
	assert.Nil(t, req.Tools)
}
