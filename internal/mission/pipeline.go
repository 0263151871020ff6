package mission

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"alchemistral/internal/broadcast"
	"alchemistral/internal/llm"
	"alchemistral/internal/logging"
	"alchemistral/internal/project"
)

const conversationSystemPrompt = `You are Alchemistral's assistant, embedded in a multi-agent coding orchestrator. The developer is asking a question about their project — answer it directly using the project memory and codebase scan provided. Do not propose a task plan, do not output JSON, do not write code unless asked. Be concise and specific to this project.`

// Pipeline sequences one user message end-to-end: reprompt, conversation or
// orchestration, plan persistence, DAG execution.
type Pipeline struct {
	projects *project.Store
	client   *llm.Client
	executor *Executor
	publish  broadcast.Func
	logger   logging.Logger
}

// NewPipeline wires the mission pipeline.
func NewPipeline(projects *project.Store, client *llm.Client, executor *Executor, publish broadcast.Func) *Pipeline {
	return &Pipeline{
		projects: projects,
		client:   client,
		executor: executor,
		publish:  publish,
		logger:   logging.NewComponentLogger("MissionPipeline"),
	}
}

// Run executes the full pipeline for one message. Any uncaught failure is
// broadcast as a single error event; Run never returns an error to the
// caller.
func (p *Pipeline) Run(ctx context.Context, projectID, message string) {
	if err := p.run(ctx, projectID, message); err != nil {
		p.logger.Error("mission pipeline error: %v", err)
		p.publish(broadcast.New(broadcast.OrchestratorID, "error",
			fmt.Sprintf("Pipeline error: %v", err)))
	}
}

func (p *Pipeline) run(ctx context.Context, projectID, message string) error {
	proj, err := p.projects.Get(projectID)
	if err != nil {
		return err
	}
	if proj == nil {
		return fmt.Errorf("project not found: %s", projectID)
	}

	alch := proj.AlchDir()
	globalMD := project.ReadGlobal(alch)
	archJSON := project.ReadArchitecture(alch)
	codebaseSummary := project.ReadCodebaseSummary(alch)
	contractTexts := project.ContractTexts(alch)

	// Step 1: reprompt.
	p.publish(broadcast.New(broadcast.OrchestratorID, "thinking",
		"Refining your request with Reprompt Engine..."))

	refined := Reprompt(ctx, p.client, message, globalMD, codebaseSummary)

	p.publish(broadcast.New(broadcast.OrchestratorID, "reprompt", "").
		With("original", message).
		With("refined", refined.Refined).
		With("intent", refined.Intent))

	// Conversation fast-path: answer the question, no agents.
	if refined.Intent == "conversation" {
		return p.converse(ctx, refined.Refined, globalMD, codebaseSummary)
	}

	// Step 2: orchestrate.
	p.publish(broadcast.New(broadcast.OrchestratorID, "thinking",
		"Analyzing repository structure and decomposing into agent tasks..."))

	plan := Orchestrate(ctx, p.client, refined.Refined, globalMD, archJSON, contractTexts, codebaseSummary)

	// Step 3: stream the DAG.
	p.publish(broadcast.New(broadcast.OrchestratorID, "dag_update", "").
		With("dag", plan.DAG).
		With("analysis", plan.Analysis))

	// Step 4: write contracts.
	for _, contract := range plan.Contracts {
		fname := contract.File
		if fname == "" {
			fname = "contract.json"
		}
		if err := project.WriteContract(alch, fname, contract.Content); err != nil {
			return err
		}
		writtenBy := contract.WrittenBy
		if writtenBy == "" {
			writtenBy = broadcast.OrchestratorID
		}
		readBy := contract.ReadBy
		if readBy == nil {
			readBy = []string{}
		}
		p.publish(broadcast.New(broadcast.OrchestratorID, "contract_update", "").
			With("file", fname).
			With("written_by", writtenBy).
			With("read_by", readBy))
	}

	// Step 5: append orchestrator updates to GLOBAL.md.
	if additions := plan.MemoryUpdates.GlobalAdditions; len(additions) > 0 {
		newMD := strings.TrimRight(globalMD, " \t\n")
		if newMD != "" {
			newMD += "\n\n"
		}
		newMD += "## Orchestrator Updates\n"
		for i, a := range additions {
			if i > 0 {
				newMD += "\n"
			}
			newMD += "- " + a
		}
		if err := project.WriteGlobal(alch, newMD); err != nil {
			return err
		}
		p.publish(broadcast.New(broadcast.OrchestratorID, "memory_update", "").
			With("additions", additions))
	}

	// Step 6: merge dag and analysis into architecture.json.
	var archData map[string]any
	if err := json.Unmarshal([]byte(archJSON), &archData); err != nil || archData == nil {
		archData = map[string]any{}
	}
	archData["dag"] = plan.DAG
	archData["last_analysis"] = plan.Analysis
	archBytes, err := json.MarshalIndent(archData, "", "  ")
	if err != nil {
		return err
	}
	if err := project.WriteArchitecture(alch, archBytes); err != nil {
		return err
	}

	// Step 7: decisions log.
	if plan.Analysis != "" {
		if err := project.AppendDecision(alch, plan.Analysis); err != nil {
			return err
		}
	}

	// Step 8: ready.
	n := len(plan.DAG)
	plural := "s"
	if n == 1 {
		plural = ""
	}
	p.publish(broadcast.New(broadcast.OrchestratorID, "ready",
		fmt.Sprintf("Plan ready. %d agent task%s queued. Spawning agents...", n, plural)))

	// Step 9: execute.
	if n > 0 {
		p.executor.Execute(ctx, ExecuteRequest{
			DAG:         plan.DAG,
			ProjectPath: proj.LocalPath,
			AlchDir:     alch,
			AdapterName: proj.CLIAdapter,
			ProjectID:   proj.ID,
			RunCommand:  plan.RunCommand,
		})
	}
	return nil
}

// converse answers a question with the large model and broadcasts one
// assistant event. LLM failures become one error event, not a pipeline error.
func (p *Pipeline) converse(ctx context.Context, question, globalMD, codebaseSummary string) error {
	p.publish(broadcast.New(broadcast.OrchestratorID, "thinking", "Thinking about your question..."))

	var ctxParts []string
	if strings.TrimSpace(globalMD) != "" {
		ctxParts = append(ctxParts, "Project memory:\n"+globalMD)
	}
	if strings.TrimSpace(codebaseSummary) != "" {
		ctxParts = append(ctxParts, "Codebase scan:\n"+codebaseSummary)
	}
	ctxParts = append(ctxParts, "Question:\n"+question)

	if p.client == nil {
		p.publish(broadcast.New(broadcast.OrchestratorID, "error",
			"Could not answer: no LLM client configured"))
		return nil
	}

	answer, err := p.client.Chat(ctx, llm.ModelLarge, []llm.Message{
		{Role: "system", Content: conversationSystemPrompt},
		{Role: "user", Content: strings.Join(ctxParts, "\n\n")},
	}, 0.7)
	if err != nil {
		p.logger.Warn("conversation reply failed: %v", err)
		p.publish(broadcast.New(broadcast.OrchestratorID, "error",
			fmt.Sprintf("Could not answer: %v", err)))
		return nil
	}

	p.publish(broadcast.New(broadcast.OrchestratorID, "assistant", answer))
	return nil
}
