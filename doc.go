// Package deepsearch is an LLM-driven deep-research runtime: given a
// natural-language question it plans and executes an iterative cycle of
// web search, URL reading, chunking, embedding, reranking and symbolic
// computation, ending in a cited answer.
//
// The root package carries the orchestration engine: the tool registry
// and parallel dispatcher, the two-model router, the stream aggregator,
// the step log, and the three loop variants — [ReactAgent] (structured
// tool calls), [CodactAgent] (sandboxed Python), and [Manager]
// (delegation to a team of sub-agents). [Runtime] is the per-process
// factory and session registry around them.
//
// # Quick start
//
//	search := litellm.New(baseURL, key, "openai/gpt-5-search")
//	orch := litellm.New(baseURL, key, "openai/gpt-5.1")
//	router := deepsearch.NewModelRouter(search, orch)
//
//	reg := deepsearch.NewRegistry()
//	reg.Register(serper.New(serperKey))
//	reg.Register(readurl.New())
//	reg.Register(finalanswer.New())
//
//	agent := deepsearch.NewReactAgent(router, reg,
//		deepsearch.WithMaxSteps(25))
//	result := agent.Execute(ctx, "Who won the 2024 Nobel in physics?")
//
// # Core interfaces
//
//   - [Agent] — a runnable loop variant returning a [RunResult]
//   - [Model] — an LLM handle (generate, stream, identify)
//   - [Tool] — a named capability with a typed input schema
//   - [SandboxGateway] — the Python executor contract behind CodeAct
//   - [AgentHandle] — the agent-as-tool surface a [Manager] delegates to
//
// Implementations ship in llm/litellm (LiteLLM proxy driver), code/
// (local, docker and HTTP sandbox backends), tools/ (search, readurl,
// chunk, embed, rerank, wolfram, final_answer, mcp), cache/ (content
// cache) and observer/ (OTEL wiring). See cmd/deepsearch for the CLI.
package deepsearch
