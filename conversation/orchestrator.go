package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tokoroten/noveldrive/document"
	"github.com/tokoroten/noveldrive/internal/metrics"
	"github.com/tokoroten/noveldrive/llm"
	"github.com/tokoroten/noveldrive/session"
	"github.com/tokoroten/noveldrive/types"
)

// Orchestrator errors.
var (
	ErrNoSession    = errors.New("no session loaded")
	ErrUnknownAgent = errors.New("unknown agent id")
)

// Config carries the orchestrator's tunables. Zero values are filled with
// defaults in New.
type Config struct {
	// ObserverMode keeps the conversation self-driving: turns handed to
	// the user fall back to an agent after UserTurnGracePeriod.
	ObserverMode        bool
	UserTurnGracePeriod time.Duration
	// PersistDebounce batches UpdateSession calls after state changes.
	PersistDebounce time.Duration

	Model            string
	MaxContextTokens int
	// TokenizerModel selects the tiktoken encoding, defaulting to Model.
	TokenizerModel string

	// InitialRoster is the active agent set for newly created sessions.
	InitialRoster types.Roster
}

// Deps are the orchestrator's collaborators. Metrics may be nil.
type Deps struct {
	Provider   llm.Provider
	Store      session.Store
	Applier    *document.Applier
	Summarizer *Summarizer
	Metrics    *metrics.Collector
	Logger     *zap.Logger
	Agents     []types.Agent
}

// Orchestrator drives the conversation: it schedules agent turns on a
// single-flight queue, calls the model, applies document mutations, and
// keeps the loaded session persisted.
//
// All exported methods are safe for concurrent use. The mutex guards the
// working session copy; it is released across the model call and the
// fuzzy diff search, and every await point is followed by re-validation
// (same run generation, same session, agent still on the roster).
type Orchestrator struct {
	cfg      Config
	provider llm.Provider
	store    session.Store
	applier  *document.Applier
	summ     *Summarizer
	metrics  *metrics.Collector
	logger   *zap.Logger

	agents   map[string]types.Agent
	queue    *TurnQueue
	resolver *SpeakerResolver
	prompts  *PromptBuilder

	ctx    context.Context
	cancel context.CancelFunc

	mu   sync.Mutex
	sess *types.Session
	// gen counts run generations. Stop, LoadSession and SubmitUserMessage
	// bump it, so a turn begun under an earlier generation fails
	// re-validation even when a new run is already active.
	gen            uint64
	running        bool
	waitingForUser bool
	lastSpeakerID  string
	userTimer      *time.Timer
	persistTimer   *time.Timer
}

// New builds an orchestrator. ctx bounds all background work; cancel it
// (or call Close) to stop in-flight turns.
func New(ctx context.Context, cfg Config, deps Deps) (*Orchestrator, error) {
	if deps.Provider == nil || deps.Store == nil || deps.Applier == nil {
		return nil, errors.New("orchestrator: provider, store and applier are required")
	}
	if len(deps.Agents) == 0 {
		return nil, errors.New("orchestrator: at least one agent is required")
	}
	if cfg.UserTurnGracePeriod <= 0 {
		cfg.UserTurnGracePeriod = 30 * time.Second
	}
	if cfg.PersistDebounce <= 0 {
		cfg.PersistDebounce = 2 * time.Second
	}
	if cfg.MaxContextTokens <= 0 {
		cfg.MaxContextTokens = 24000
	}
	if cfg.TokenizerModel == "" {
		cfg.TokenizerModel = cfg.Model
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "orchestrator"))

	agents := make(map[string]types.Agent, len(deps.Agents))
	for _, a := range deps.Agents {
		agents[a.ID] = a
	}
	if len(cfg.InitialRoster) == 0 {
		for _, a := range deps.Agents {
			cfg.InitialRoster = append(cfg.InitialRoster, a.ID)
		}
	}
	for _, id := range cfg.InitialRoster {
		if _, ok := agents[id]; !ok {
			return nil, fmt.Errorf("%w: %q in initial roster", ErrUnknownAgent, id)
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	o := &Orchestrator{
		cfg:      cfg,
		provider: deps.Provider,
		store:    deps.Store,
		applier:  deps.Applier,
		summ:     deps.Summarizer,
		metrics:  deps.Metrics,
		logger:   logger,
		agents:   agents,
		resolver: NewSpeakerResolver(),
		prompts:  NewPromptBuilder(cfg.TokenizerModel, cfg.MaxContextTokens, deps.Logger),
		ctx:      ctx,
		cancel:   cancel,
	}
	o.queue = NewTurnQueue(ctx, deps.Logger)
	o.queue.SetHandler(o.handleTurn)
	if o.metrics != nil {
		o.queue.SetLengthObserver(o.metrics.QueueDepth)
	}
	return o, nil
}

// Close stops the conversation, flushes pending persistence and releases
// background resources. The session store is not closed.
func (o *Orchestrator) Close() error {
	o.Stop()
	o.Flush()
	o.cancel()
	o.queue.Close()
	return nil
}

// CreateSession creates and loads a fresh session with the configured
// initial roster.
func (o *Orchestrator) CreateSession(ctx context.Context, title string) (*types.Session, error) {
	s := types.NewSession(title)
	s.ActiveAgentIDs = o.cfg.InitialRoster.Clone()
	if err := o.store.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	o.mu.Lock()
	o.unloadLocked()
	o.sess = s
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.logger.Info("session created", zap.String("session_id", s.ID), zap.String("title", title))
	return snap, nil
}

// LoadSession switches the orchestrator to the stored session with the
// given id. Any running conversation on the previous session stops; its
// in-flight turn, if any, is discarded on return by re-validation.
func (o *Orchestrator) LoadSession(ctx context.Context, id string) (*types.Session, error) {
	s, err := o.store.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	o.mu.Lock()
	o.unloadLocked()
	o.sess = s
	stripProvisional(&o.sess.Conversation)
	snap := o.snapshotLocked()
	o.mu.Unlock()
	o.logger.Info("session loaded", zap.String("session_id", id))
	return snap, nil
}

// CurrentSession returns an independent snapshot of the loaded session,
// or nil when none is loaded.
func (o *Orchestrator) CurrentSession() *types.Session {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshotLocked()
}

// Running reports whether agent turns are being scheduled.
func (o *Orchestrator) Running() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.running
}

// SubmitUserMessage appends a user turn and schedules the reply. A user
// message always takes priority: pending agent turns are dropped and the
// reply goes to targetAgentID, or to a random roster member when empty.
func (o *Orchestrator) SubmitUserMessage(text, targetAgentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return ErrNoSession
	}
	if targetAgentID != "" && !o.sess.ActiveAgentIDs.Contains(targetAgentID) {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, targetAgentID)
	}
	next := targetAgentID
	if next == "" {
		next = o.resolver.PickRandom(o.sess.ActiveAgentIDs, "")
	}
	if next == "" {
		return errors.New("no active agents to reply")
	}

	turn := types.NewUserTurn(text)
	turn.TargetAgentID = targetAgentID
	o.sess.Conversation = append(o.sess.Conversation, turn)
	o.lastSpeakerID = types.SpeakerUser

	o.queue.Clear()
	// Any in-flight agent turn belongs to the superseded run.
	o.gen++
	o.running = true
	o.scheduleLocked(next)
	o.schedulePersistLocked()
	return nil
}

// StartConversation schedules a turn without a user message, kicking off
// a self-driving run. Empty agentID picks a random roster member.
func (o *Orchestrator) StartConversation(agentID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return ErrNoSession
	}
	if agentID != "" && !o.sess.ActiveAgentIDs.Contains(agentID) {
		return fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}
	if agentID == "" {
		agentID = o.resolver.PickRandom(o.sess.ActiveAgentIDs, "")
	}
	if agentID == "" {
		return errors.New("no active agents")
	}
	o.running = true
	o.scheduleLocked(agentID)
	return nil
}

// UpdateDocument replaces the document with a manual user edit and records
// a version snapshot.
func (o *Orchestrator) UpdateDocument(content string) error {
	o.mu.Lock()
	if o.sess == nil {
		o.mu.Unlock()
		return ErrNoSession
	}
	o.sess.DocumentContent = content
	sid := o.sess.ID
	o.schedulePersistLocked()
	o.mu.Unlock()

	return o.saveVersion(sid, content, types.SpeakerUser, "user_edit")
}

// SetRoster replaces the active agent set. Turns already scheduled for a
// removed agent are resolved at execution time, not here.
func (o *Orchestrator) SetRoster(roster types.Roster) error {
	if len(roster) == 0 {
		return errors.New("roster must have at least one member")
	}
	for _, id := range roster {
		if _, ok := o.agents[id]; !ok {
			return fmt.Errorf("%w: %q", ErrUnknownAgent, id)
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.sess == nil {
		return ErrNoSession
	}
	o.sess.ActiveAgentIDs = roster.Clone()
	o.schedulePersistLocked()
	return nil
}

// Stop halts scheduling: the pending queue is cleared and provisional
// entries are removed. An in-flight model call is not interrupted; its
// reply is discarded by re-validation.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.stopLocked()
	if o.sess != nil {
		o.schedulePersistLocked()
	}
}

// Flush persists the loaded session immediately, bypassing the debounce.
func (o *Orchestrator) Flush() {
	o.mu.Lock()
	if o.persistTimer != nil {
		o.persistTimer.Stop()
		o.persistTimer = nil
	}
	sid := ""
	if o.sess != nil {
		sid = o.sess.ID
	}
	o.mu.Unlock()
	if sid != "" {
		o.persist(sid)
	}
}

// handleTurn is the queue handler for one agent turn.
func (o *Orchestrator) handleTurn(ctx context.Context, req types.TurnRequest) error {
	started := time.Now()

	o.mu.Lock()
	// gen pins this turn to the current run; any stop or restart while the
	// lock is released bumps it and the turn's results are dropped.
	gen := o.gen
	if !o.validLocked(req.SessionID, gen) {
		o.mu.Unlock()
		o.observeTurn(metrics.OutcomeStale, started)
		return nil
	}
	agentID := req.AgentID
	if !o.sess.ActiveAgentIDs.Contains(agentID) {
		// Scheduled agent left the roster between enqueue and execution.
		sub := o.resolver.PickRandom(o.sess.ActiveAgentIDs, "")
		if sub == "" {
			o.stopLocked()
			o.mu.Unlock()
			return nil
		}
		o.sess.Conversation = append(o.sess.Conversation, types.NewSystemTurn(fmt.Sprintf(
			"%s is no longer in the conversation; %s takes the turn instead.", agentID, sub)))
		agentID = sub
	}
	agent, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownAgent, agentID)
	}

	stripProvisionalFor(&o.sess.Conversation, agentID)
	prov := types.NewProvisionalTurn(agentID)
	o.sess.Conversation = append(o.sess.Conversation, prov)

	doc := o.sess.DocumentContent
	conv := snapshotTurns(o.sess.Conversation)
	roster := o.sess.ActiveAgentIDs.Clone()
	o.mu.Unlock()

	resp, err := o.provider.Completion(ctx, &llm.ChatRequest{
		Model:      o.cfg.Model,
		Messages:   o.prompts.Build(agent, o.rosterAgents(roster), doc, conv),
		Tools:      []llm.ToolSchema{ReplyToolSchema(agentID, roster)},
		ToolChoice: ReplyToolName,
	})
	if err != nil {
		o.failTurn(req.SessionID, prov.ID, gen, agent, err)
		o.observeTurn(metrics.OutcomeFailed, started)
		return nil
	}

	reply, outcome := o.parseReply(resp)

	// Apply the mutation outside the lock; the fuzzy search can run for
	// seconds. The working document is re-read first so user edits made
	// during the model call are not clobbered.
	o.mu.Lock()
	if !o.commitableLocked(req.SessionID, gen, agentID) {
		if o.sess != nil {
			stripProvisionalByID(&o.sess.Conversation, prov.ID)
		}
		o.mu.Unlock()
		o.observeTurn(metrics.OutcomeStale, started)
		return nil
	}
	doc = o.sess.DocumentContent
	o.mu.Unlock()

	applied := o.applier.Apply(ctx, doc, reply.Action, agent)
	o.observeDiffs(applied.Diagnostics)

	o.mu.Lock()
	if !o.commitableLocked(req.SessionID, gen, agentID) {
		if o.sess != nil {
			stripProvisionalByID(&o.sess.Conversation, prov.ID)
		}
		o.mu.Unlock()
		o.observeTurn(metrics.OutcomeStale, started)
		return nil
	}
	o.sess.DocumentContent = applied.Document

	message := reply.Message
	if applied.Annotation != "" {
		if message != "" {
			message += "\n\n"
		}
		message += applied.Annotation
	}
	usage := types.TokenUsage{
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		TotalTokens:      resp.Usage.TotalTokens,
	}
	final := types.ConversationTurn{
		ID:        prov.ID,
		SpeakerID: agentID,
		Message:   message,
		CreatedAt: time.Now(),
		Action:    applied.AppliedAction,
		Usage:     &usage,
	}
	if !replaceByID(o.sess.Conversation, prov.ID, final) {
		// Provisional vanished (user stop raced); append instead.
		o.sess.Conversation = append(o.sess.Conversation, final)
	}
	o.lastSpeakerID = agentID

	res := o.resolver.Resolve(reply.NextSpeaker, o.sess.ActiveAgentIDs, agentID, o.cfg.ObserverMode)
	o.sess.Conversation = append(o.sess.Conversation, res.Notes...)
	switch {
	case res.NextAgentID != "":
		o.scheduleLocked(res.NextAgentID)
	case res.WaitForUser:
		o.waitForUserLocked()
	}

	sid := o.sess.ID
	mutated := applied.AppliedAction != nil && applied.AppliedAction.Mutates()
	newDoc := o.sess.DocumentContent
	conv = snapshotTurns(o.sess.Conversation)
	o.schedulePersistLocked()
	o.mu.Unlock()

	if mutated {
		if err := o.saveVersion(sid, newDoc, agentID, string(applied.AppliedAction.Kind)); err != nil {
			o.logger.Warn("version snapshot failed", zap.String("session_id", sid), zap.Error(err))
		}
	}
	if o.metrics != nil {
		o.metrics.TokensUsed(usage.PromptTokens, usage.CompletionTokens)
	}
	o.maybeSummarize(sid, conv)
	o.observeTurn(outcome, started)
	return nil
}

// parseReply extracts the structured reply, degrading to a fallback on
// missing tool calls or malformed arguments.
func (o *Orchestrator) parseReply(resp *llm.ChatResponse) (*types.Reply, string) {
	tc := resp.FirstToolCall()
	if tc == nil {
		o.logger.Warn("model returned no tool call, using fallback reply")
		return types.FallbackReply(resp.OutputText()), metrics.OutcomeFallback
	}
	reply, err := types.ParseStructuredReply(tc.Arguments)
	if err != nil {
		o.logger.Warn("unparseable reply arguments, using fallback", zap.Error(err))
		return types.FallbackReply(string(tc.Arguments)), metrics.OutcomeFallback
	}
	return reply, metrics.OutcomeCompleted
}

// failTurn handles a model failure: the provisional entry is removed, a
// visible system entry records the error, and the run halts so the
// conversation does not spin against a failing provider. A failure that
// arrives after its run already ended stays silent.
func (o *Orchestrator) failTurn(sessionID, provID string, gen uint64, agent types.Agent, err error) {
	o.logger.Error("turn failed", zap.String("agent_id", agent.ID), zap.Error(err))
	o.mu.Lock()
	defer o.mu.Unlock()
	if !o.validLocked(sessionID, gen) {
		// The run was stopped or replaced while the call was out; discard
		// silently like any other stale result.
		if o.sess != nil {
			stripProvisionalByID(&o.sess.Conversation, provID)
		}
		return
	}
	stripProvisionalByID(&o.sess.Conversation, provID)
	o.sess.Conversation = append(o.sess.Conversation, types.NewSystemTurn(fmt.Sprintf(
		"%s could not respond (%v). The conversation is paused.", agent.DisplayName, err)))
	o.stopLocked()
	o.schedulePersistLocked()
}

func (o *Orchestrator) maybeSummarize(sessionID string, conv []types.ConversationTurn) {
	if o.summ == nil || !o.summ.ShouldSummarize(sessionID, conv) {
		return
	}
	o.summ.Start(o.ctx, sessionID, conv, func(res *SummaryResult, err error) {
		o.mu.Lock()
		defer o.mu.Unlock()
		if o.sess == nil || o.sess.ID != sessionID {
			return
		}
		switch {
		case err != nil:
			o.sess.Conversation = append(o.sess.Conversation, types.NewSystemTurn(
				fmt.Sprintf("Summarization failed: %v. Earlier turns are kept as is.", err)))
			if o.metrics != nil {
				o.metrics.Summarization("failed")
			}
		case res != nil:
			o.sess.Conversation = SpliceSummary(o.sess.Conversation, res)
			if o.metrics != nil {
				o.metrics.Summarization("ok")
			}
		default:
			return
		}
		o.schedulePersistLocked()
	})
}

// waitForUserLocked parks the conversation for user input. In observer
// mode a grace timer hands the turn to a random agent (preferring someone
// other than the last speaker) if the user stays silent.
func (o *Orchestrator) waitForUserLocked() {
	o.waitingForUser = true
	if !o.cfg.ObserverMode {
		return
	}
	sid := o.sess.ID
	gen := o.gen
	exclude := o.lastSpeakerID
	o.stopUserTimerLocked()
	o.userTimer = time.AfterFunc(o.cfg.UserTurnGracePeriod, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if !o.validLocked(sid, gen) || !o.waitingForUser {
			return
		}
		next := o.resolver.PickRandom(o.sess.ActiveAgentIDs, exclude)
		if next == "" {
			return
		}
		o.sess.Conversation = append(o.sess.Conversation, types.NewSystemTurn(
			"The user stayed quiet; the conversation continues."))
		o.scheduleLocked(next)
		o.schedulePersistLocked()
	})
}

func (o *Orchestrator) scheduleLocked(agentID string) {
	o.waitingForUser = false
	o.stopUserTimerLocked()
	o.queue.Enqueue(types.TurnRequest{AgentID: agentID, SessionID: o.sess.ID})
}

func (o *Orchestrator) validLocked(sessionID string, gen uint64) bool {
	return o.running && o.gen == gen && o.sess != nil && o.sess.ID == sessionID
}

// commitableLocked is the re-validation after an await point: the turn may
// commit only while its run is live and its agent still on the roster.
func (o *Orchestrator) commitableLocked(sessionID string, gen uint64, agentID string) bool {
	return o.validLocked(sessionID, gen) && o.sess.ActiveAgentIDs.Contains(agentID)
}

func (o *Orchestrator) stopLocked() {
	o.gen++
	o.running = false
	o.waitingForUser = false
	o.stopUserTimerLocked()
	o.queue.Clear()
	if o.sess != nil {
		stripProvisional(&o.sess.Conversation)
	}
}

func (o *Orchestrator) unloadLocked() {
	o.stopLocked()
	if o.persistTimer != nil {
		o.persistTimer.Stop()
		o.persistTimer = nil
	}
	o.sess = nil
	o.lastSpeakerID = ""
}

func (o *Orchestrator) stopUserTimerLocked() {
	if o.userTimer != nil {
		o.userTimer.Stop()
		o.userTimer = nil
	}
}

func (o *Orchestrator) schedulePersistLocked() {
	if o.persistTimer != nil {
		o.persistTimer.Stop()
	}
	sid := o.sess.ID
	o.persistTimer = time.AfterFunc(o.cfg.PersistDebounce, func() {
		o.persist(sid)
	})
}

func (o *Orchestrator) persist(sessionID string) {
	o.mu.Lock()
	if o.sess == nil || o.sess.ID != sessionID {
		o.mu.Unlock()
		return
	}
	title := o.sess.Title
	docContent := o.sess.DocumentContent
	// Provisional entries are in-flight UI state, never durable.
	conv := make([]types.ConversationTurn, 0, len(o.sess.Conversation))
	for _, t := range o.sess.Conversation {
		if !t.Provisional {
			conv = append(conv, t)
		}
	}
	roster := o.sess.ActiveAgentIDs.Clone()
	o.mu.Unlock()

	err := o.store.UpdateSession(o.ctx, sessionID, session.Update{
		Title:           &title,
		DocumentContent: &docContent,
		Conversation:    &conv,
		ActiveAgentIDs:  &roster,
	})
	if err != nil {
		o.logger.Warn("session persist failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

func (o *Orchestrator) saveVersion(sessionID, content, editedBy, action string) error {
	v := &types.DocumentVersion{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Content:   content,
		EditedBy:  editedBy,
		Action:    action,
		CreatedAt: time.Now(),
	}
	return o.store.SaveDocumentVersion(o.ctx, v)
}

func (o *Orchestrator) rosterAgents(roster types.Roster) []types.Agent {
	out := make([]types.Agent, 0, len(roster))
	for _, id := range roster {
		if a, ok := o.agents[id]; ok {
			out = append(out, a)
		}
	}
	return out
}

func (o *Orchestrator) snapshotLocked() *types.Session {
	if o.sess == nil {
		return nil
	}
	snap := *o.sess
	snap.Conversation = snapshotTurns(o.sess.Conversation)
	snap.ActiveAgentIDs = o.sess.ActiveAgentIDs.Clone()
	return &snap
}

func (o *Orchestrator) observeTurn(outcome string, started time.Time) {
	if o.metrics != nil {
		o.metrics.TurnCompleted(outcome, time.Since(started))
	}
}

func (o *Orchestrator) observeDiffs(diags []types.DiffApplicationResult) {
	if o.metrics == nil {
		return
	}
	for _, d := range diags {
		switch {
		case d.Applied:
			o.metrics.DiffEdit("applied")
		case !d.Authorized:
			o.metrics.DiffEdit("unauthorized")
		default:
			o.metrics.DiffEdit("failed")
		}
	}
}

func snapshotTurns(conv []types.ConversationTurn) []types.ConversationTurn {
	out := make([]types.ConversationTurn, len(conv))
	copy(out, conv)
	return out
}

func stripProvisional(conv *[]types.ConversationTurn) {
	kept := (*conv)[:0]
	for _, t := range *conv {
		if !t.Provisional {
			kept = append(kept, t)
		}
	}
	*conv = kept
}

func stripProvisionalFor(conv *[]types.ConversationTurn, agentID string) {
	kept := (*conv)[:0]
	for _, t := range *conv {
		if t.Provisional && t.SpeakerID == agentID {
			continue
		}
		kept = append(kept, t)
	}
	*conv = kept
}

func stripProvisionalByID(conv *[]types.ConversationTurn, id string) {
	kept := (*conv)[:0]
	for _, t := range *conv {
		if t.ID == id {
			continue
		}
		kept = append(kept, t)
	}
	*conv = kept
}

func replaceByID(conv []types.ConversationTurn, id string, replacement types.ConversationTurn) bool {
	for i := range conv {
		if conv[i].ID == id {
			conv[i] = replacement
			return true
		}
	}
	return false
}
