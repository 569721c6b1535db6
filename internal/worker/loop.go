package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/ShayCichocki/taskloom/internal/artifact"
	"github.com/ShayCichocki/taskloom/internal/llm"
	"github.com/ShayCichocki/taskloom/internal/sandbox"
	"github.com/ShayCichocki/taskloom/internal/sqlengine"
	"github.com/ShayCichocki/taskloom/pkg/models"
)

// Artifact kinds the model may return.
const (
	ArtifactCode = "code"
	ArtifactSQL  = "sql"
	ArtifactText = "text"
)

// defaultSQLOutput names the stored result of a query without declared outputs.
const defaultSQLOutput = "query_result"

// Artifact is what the model produces on each attempt.
type Artifact struct {
	Kind            string   `json:"kind"`
	Content         string   `json:"content"`
	OutputVariables []string `json:"output_variables"`
	IsMalicious     bool     `json:"is_malicious"`
	Explanation     string   `json:"explanation"`
}

type outcome int

const (
	outcomeRetry outcome = iota
	outcomeCompleted
	outcomeAbandoned
)

// run is the state of one execution loop.
type run struct {
	w    *models.Worker
	p    *models.Planner
	msgs []llm.Message
	// failures are the consecutive execution failures so far.
	failures []Failure
	env      sandbox.Environment
	tables   map[string]*sqlengine.Table
}

// add appends to the model history, merging consecutive turns of one role.
func (r *run) add(role, content string) {
	if n := len(r.msgs); n > 0 && r.msgs[n-1].Role == role {
		r.msgs[n-1].Content += "\n\n" + content
		return
	}
	r.msgs = append(r.msgs, llm.Message{Role: role, Content: content})
}

// execution is the outcome of running one artifact.
type execution struct {
	ok      bool
	output  string
	outputs map[string]sandbox.Value
	missing []string
	err     string
	trace   string
}

func (h *Handlers) run(ctx context.Context, w *models.Worker) error {
	p, err := h.store.GetPlanner(w.PlannerID)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("planner %s of worker %s not found", w.PlannerID, w.ID)
	}

	r := &run{w: w, p: p}
	if err := h.loadInputs(r); err != nil {
		return err
	}

	intro, err := h.intro(r)
	if err != nil {
		return err
	}
	if err := h.say(r, models.RoleUser, intro); err != nil {
		return err
	}

	w.TaskStatus = models.WorkerExecuting
	if err := h.store.UpdateWorker(w); err != nil {
		return err
	}

	for w.AttemptsUsed < w.MaxRetry {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.AttemptsUsed++

		out, err := h.attempt(ctx, r)
		if err != nil {
			return err
		}
		if err := h.store.UpdateWorker(w); err != nil {
			return err
		}
		switch out {
		case outcomeCompleted:
			h.logger.Info("worker completed", "worker", w.ID, "attempts", w.AttemptsUsed)
			return nil
		case outcomeAbandoned:
			h.logger.Warn("worker abandoned after repeated failures", "worker", w.ID, "attempts", w.AttemptsUsed)
			return nil
		}
	}

	w.TaskStatus = models.WorkerFailedValidation
	w.TaskResult = ResultExhausted
	h.logger.Warn("worker exhausted its attempts", "worker", w.ID, "attempts", w.AttemptsUsed)
	return h.store.UpdateWorker(w)
}

// attempt runs one iteration of the loop. Only infrastructure failures are
// returned as errors; everything else is an outcome.
func (h *Handlers) attempt(ctx context.Context, r *run) (outcome, error) {
	w := r.w
	logger := h.logger.With("worker", w.ID, "attempt", w.AttemptsUsed)
	w.TaskStatus = models.WorkerFailedValidation

	art, err := h.generate(ctx, r)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeRetry, ctx.Err()
		}
		logger.Warn("artifact request failed", "error", err)
		r.add(llm.RoleUser, "Your last answer could not be used ("+err.Error()+"). Answer with the JSON object described.")
		return outcomeRetry, nil
	}
	kind := artifactKind(art, w.Kind)
	if err := h.say(r, models.RoleAssistant, renderArtifact(art, kind)); err != nil {
		return outcomeRetry, err
	}

	if kind == ArtifactCode {
		if reason := h.malicious(art); reason != "" {
			logger.Warn("artifact rejected", "reason", reason)
			if err := h.log(w, models.RoleAssistant, "Rejected the code as malicious ("+reason+"). It was not executed."); err != nil {
				return outcomeRetry, err
			}
			r.add(llm.RoleUser, "Your code was rejected as malicious ("+reason+") and was not executed. Solve the task without file, process or network access.")
			return outcomeRetry, nil
		}
	}

	var ex execution
	switch kind {
	case ArtifactText:
		ex = execution{ok: true, output: art.Content}
	case ArtifactSQL:
		ex = h.runSQL(ctx, r, art)
	default:
		ex = h.runCode(ctx, r, art)
	}

	if !ex.ok {
		return h.executionFailed(ctx, r, art, ex)
	}
	r.failures = nil

	if err := h.storeOutputs(r, ex); err != nil {
		return outcomeRetry, err
	}
	if err := h.say(r, models.RoleUser, executionReport(ex, h.cfg.MaxOutput)); err != nil {
		return outcomeRetry, err
	}

	verdict, err := h.validator.Validate(ctx, w, r.msgs)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeRetry, ctx.Err()
		}
		logger.Warn("validation failed", "error", err)
		verdict = Verdict{Feedback: "The result could not be validated: " + err.Error()}
	}

	if verdict.Met {
		w.TaskStatus = models.WorkerCompleted
		w.TaskResult = taskResult(art, kind, ex, h.cfg.MaxOutput)
		return outcomeCompleted, nil
	}

	logger.Info("acceptance criteria not met", "feedback", verdict.Feedback)
	if err := h.say(r, models.RoleUser, "The acceptance criteria are not met: "+verdict.Feedback); err != nil {
		return outcomeRetry, err
	}
	return outcomeRetry, nil
}

func (h *Handlers) executionFailed(ctx context.Context, r *run, art Artifact, ex execution) (outcome, error) {
	w := r.w
	r.failures = append(r.failures, Failure{Attempt: w.AttemptsUsed, Code: art.Content, Error: ex.err})

	msg := "Execution failed:\n" + ex.err
	if ex.trace != "" {
		msg += "\n\nStack trace:\n" + ex.trace
	}
	if ex.output != "" {
		msg += "\n\nOutput before the failure:\n" + truncate(ex.output, h.cfg.MaxOutput)
	}
	if err := h.say(r, models.RoleUser, msg); err != nil {
		return outcomeRetry, err
	}

	if len(r.failures) < h.cfg.RepeatThreshold {
		return outcomeRetry, nil
	}
	repeated, reason, err := h.judge.Repeated(ctx, r.failures)
	if err != nil {
		if ctx.Err() != nil {
			return outcomeRetry, ctx.Err()
		}
		h.logger.Warn("repeated failure judge failed", "worker", w.ID, "error", err)
		return outcomeRetry, nil
	}
	if !repeated {
		return outcomeRetry, nil
	}
	w.TaskResult = "abandoned after repeated failures: " + reason
	return outcomeAbandoned, nil
}

func (h *Handlers) generate(ctx context.Context, r *run) (Artifact, error) {
	system := codeArtifactPrompt
	if r.w.Kind == models.WorkerKindSQL {
		system = sqlArtifactPrompt
	}

	var art Artifact
	if err := llm.RequestJSON(ctx, h.llm, llm.Request{System: system, Messages: r.msgs}, &art); err != nil {
		return Artifact{}, err
	}
	if strings.TrimSpace(art.Content) == "" {
		return Artifact{}, fmt.Errorf("empty artifact")
	}
	return art, nil
}

func artifactKind(art Artifact, workerKind models.WorkerKind) string {
	kind := strings.ToLower(strings.TrimSpace(art.Kind))
	if workerKind == models.WorkerKindSQL {
		if kind == ArtifactText {
			return ArtifactText
		}
		return ArtifactSQL
	}
	switch kind {
	case ArtifactSQL, ArtifactText:
		return kind
	default:
		return ArtifactCode
	}
}

// malicious returns why code must not run, or "".
func (h *Handlers) malicious(art Artifact) string {
	if art.IsMalicious {
		reason := "flagged by the model"
		if art.Explanation != "" {
			reason += ": " + art.Explanation
		}
		return reason
	}
	if h.policy != nil {
		if bad, reason := h.policy.Check(art.Content); bad {
			return reason
		}
	}
	return ""
}

func (h *Handlers) runCode(ctx context.Context, r *run, art Artifact) execution {
	res := h.sandbox.Execute(ctx, art.Content, r.env)
	if !res.Success {
		return execution{output: res.Output, err: res.Error, trace: res.StackTrace}
	}

	ex := execution{ok: true, output: res.Output, outputs: make(map[string]sandbox.Value)}
	for _, name := range art.OutputVariables {
		if v, ok := res.Variables[name]; ok {
			ex.outputs[name] = v
		} else {
			ex.missing = append(ex.missing, name)
		}
	}
	return ex
}

func (h *Handlers) runSQL(ctx context.Context, r *run, art Artifact) execution {
	res, err := h.sql.Query(ctx, art.Content, r.tables)
	if err != nil {
		return execution{err: err.Error()}
	}

	data, err := json.Marshal(res.Records())
	if err != nil {
		return execution{err: fmt.Sprintf("encode query result: %v", err)}
	}
	name := defaultSQLOutput
	if len(art.OutputVariables) > 0 {
		name = art.OutputVariables[0]
	}
	return execution{
		ok:      true,
		output:  renderTable(res),
		outputs: map[string]sandbox.Value{name: {Kind: sandbox.KindJSON, JSON: data}},
	}
}

// storeOutputs persists the declared outputs and records their refs.
func (h *Handlers) storeOutputs(r *run, ex execution) error {
	w := r.w
	for _, name := range sortedNames(ex.outputs) {
		v := ex.outputs[name]

		key, data := name+".txt", []byte(v.Repr)
		switch v.Kind {
		case sandbox.KindImage:
			key, data = name+".png", v.Image
		case sandbox.KindJSON:
			key, data = name+".json", v.JSON
		}

		ref, err := h.artifacts.Save(w.ID, key, data)
		if err != nil {
			return fmt.Errorf("store output %s: %w", name, err)
		}
		if v.Kind == sandbox.KindImage {
			if w.OutputImageRefs == nil {
				w.OutputImageRefs = make(map[string]string)
			}
			w.OutputImageRefs[name] = ref
		} else {
			if w.OutputVariableRefs == nil {
				w.OutputVariableRefs = make(map[string]string)
			}
			w.OutputVariableRefs[name] = ref
		}
	}
	return nil
}

// loadInputs resolves the worker's input refs into the execution environment.
func (h *Handlers) loadInputs(r *run) error {
	r.env = sandbox.Environment{
		Variables: make(map[string]json.RawMessage),
		Images:    make(map[string][]byte),
		Tools:     r.w.Tools,
	}
	r.tables = make(map[string]*sqlengine.Table)

	for _, name := range r.w.InputVariables {
		ref, ok := r.p.VariableFileRefs[name]
		if !ok {
			return fmt.Errorf("input variable %s is not available", name)
		}
		data, err := artifact.LoadRef(h.artifacts, ref)
		if err != nil {
			return fmt.Errorf("load variable %s: %w", name, err)
		}
		raw := json.RawMessage(data)
		if !json.Valid(data) {
			raw, _ = json.Marshal(string(data))
		}
		r.env.Variables[name] = raw
		if t, err := sqlengine.ParseTable(raw); err == nil {
			r.tables[name] = t
		}
	}

	for _, name := range r.w.InputImages {
		ref, ok := r.p.ImageFileRefs[name]
		if !ok {
			return fmt.Errorf("input image %s is not available", name)
		}
		data, err := artifact.LoadRef(h.artifacts, ref)
		if err != nil {
			return fmt.Errorf("load image %s: %w", name, err)
		}
		r.env.Images[name] = data
	}
	return nil
}

// intro builds the opening message. Inputs are listed by reference only.
func (h *Handlers) intro(r *run) (string, error) {
	w, p := r.w, r.p

	var b strings.Builder
	fmt.Fprintf(&b, "Task: %s\n", w.TaskDescription)
	fmt.Fprintf(&b, "Acceptance criteria: %s\n", w.AcceptanceCriteria)
	fmt.Fprintf(&b, "Original user request: %s\n", p.UserQuestion)

	b.WriteString("\nInput variables:")
	writeRefs(&b, w.InputVariables, p.VariableFileRefs)
	b.WriteString("\nInput images:")
	writeRefs(&b, w.InputImages, p.ImageFileRefs)
	if len(w.Tools) > 0 {
		fmt.Fprintf(&b, "\nTools: %s\n", strings.Join(w.Tools, ", "))
	}

	siblings, err := h.store.ListWorkersByPlanner(w.PlannerID)
	if err != nil {
		return "", err
	}
	n := 0
	for _, s := range siblings {
		if s.ID == w.ID || s.TaskResult == "" {
			continue
		}
		if n == 0 {
			b.WriteString("\nResults of earlier tasks:\n")
		}
		fmt.Fprintf(&b, "- %s: %s\n", truncate(s.TaskDescription, 200), truncate(s.TaskResult, 300))
		n++
		if n == h.cfg.SiblingResults {
			break
		}
	}
	return b.String(), nil
}

func writeRefs(b *strings.Builder, names []string, refs map[string]string) {
	if len(names) == 0 {
		b.WriteString(" none\n")
		return
	}
	b.WriteString("\n")
	for _, name := range names {
		fmt.Fprintf(b, "- %s (ref %s)\n", name, refs[name])
	}
}

// say appends to both the model history and the persisted worker log.
func (h *Handlers) say(r *run, role models.Role, content string) error {
	r.add(string(role), content)
	return h.log(r.w, role, content)
}

func (h *Handlers) log(w *models.Worker, role models.Role, content string) error {
	_, err := h.store.AppendMessage(models.AgentWorker, w.ID, role, content)
	return err
}

func renderArtifact(art Artifact, kind string) string {
	var b strings.Builder
	if art.Explanation != "" {
		b.WriteString(art.Explanation)
		b.WriteString("\n\n")
	}
	switch kind {
	case ArtifactText:
		b.WriteString(art.Content)
	case ArtifactSQL:
		b.WriteString("```sql\n" + art.Content + "\n```")
	default:
		b.WriteString("```python\n" + art.Content + "\n```")
	}
	if len(art.OutputVariables) > 0 {
		b.WriteString("\nOutputs: " + strings.Join(art.OutputVariables, ", "))
	}
	return b.String()
}

func executionReport(ex execution, maxOutput int) string {
	var b strings.Builder
	b.WriteString("Execution succeeded.")
	if ex.output != "" {
		b.WriteString("\n\nOutput:\n" + truncate(ex.output, maxOutput))
	}
	for _, name := range sortedNames(ex.outputs) {
		v := ex.outputs[name]
		switch v.Kind {
		case sandbox.KindImage:
			fmt.Fprintf(&b, "\n%s: image (%d bytes)", name, len(v.Image))
		case sandbox.KindJSON:
			fmt.Fprintf(&b, "\n%s: %s", name, truncate(string(v.JSON), 500))
		default:
			fmt.Fprintf(&b, "\n%s: %s", name, truncate(v.Repr, 500))
		}
	}
	if len(ex.missing) > 0 {
		b.WriteString("\nDeclared outputs that were not defined: " + strings.Join(ex.missing, ", "))
	}
	return b.String()
}

func taskResult(art Artifact, kind string, ex execution, maxOutput int) string {
	if kind == ArtifactText {
		return art.Content
	}
	var b strings.Builder
	b.WriteString(art.Explanation)
	if ex.output != "" {
		b.WriteString("\n\nOutput:\n" + truncate(ex.output, maxOutput))
	}
	if names := sortedNames(ex.outputs); len(names) > 0 {
		b.WriteString("\nVariables: " + strings.Join(names, ", "))
	}
	return strings.TrimSpace(b.String())
}

// renderTable prints up to 20 rows of a query result.
func renderTable(res *sqlengine.Result) string {
	const maxRows = 20
	var b strings.Builder
	b.WriteString(strings.Join(res.Columns, " | "))
	for i, row := range res.Rows {
		if i == maxRows {
			fmt.Fprintf(&b, "\n... %d more rows", len(res.Rows)-maxRows)
			break
		}
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = fmt.Sprint(v)
		}
		b.WriteString("\n" + strings.Join(cells, " | "))
	}
	if res.Truncated {
		b.WriteString("\n(result truncated)")
	}
	return b.String()
}

func sortedNames(m map[string]sandbox.Value) []string {
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
