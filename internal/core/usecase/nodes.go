package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/kirillkom/docqa-orchestrator/internal/core/budget"
	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
	"github.com/kirillkom/docqa-orchestrator/internal/core/ports"
	"github.com/kirillkom/docqa-orchestrator/internal/core/prompting"
	"github.com/kirillkom/docqa-orchestrator/internal/core/retrieval"
	"github.com/kirillkom/docqa-orchestrator/internal/core/summarize"
)

const unanswerableMarker = "unanswerable"

// isUnanswerable reports whether the self-route reply is the bare marker.
// Answers that merely mention the word are real answers.
func isUnanswerable(text string) bool {
	reply := strings.Trim(strings.TrimSpace(text), ".!\"'`* \t\n")
	return strings.EqualFold(reply, unanswerableMarker)
}

var keywordPatterns sync.Map

// containsKeyword matches keyword as whole words, so "research the website"
// does not trigger "search the web".
func containsKeyword(question, keyword string) bool {
	words := strings.Fields(strings.ToLower(keyword))
	if len(words) == 0 {
		return false
	}
	key := strings.Join(words, " ")
	cached, ok := keywordPatterns.Load(key)
	if !ok {
		quoted := make([]string, len(words))
		for i, w := range words {
			quoted[i] = regexp.QuoteMeta(w)
		}
		pattern := regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}_@])` + strings.Join(quoted, `\s+`) + `(?:$|[^\p{L}\p{N}_])`)
		cached, _ = keywordPatterns.LoadOrStore(key, pattern)
	}
	return cached.(*regexp.Regexp).MatchString(question)
}

func (o *Orchestrator) retrieveMetadata(ctx context.Context, r *run) (Event, error) {
	req := r.state.Request
	if !req.HasSelection() {
		return EventMetadataRetrieved, nil
	}
	docs, err := o.deps.Metadata.Retrieve(ctx, domain.SearchQuery{Filter: domain.SearchFilter{
		SourceIDs:  req.EligibleSourceIDs(),
		Resolution: domain.ResolutionLargest,
	}})
	if ev, handled, err := r.forbidden(err); handled {
		return ev, err
	}
	o.deps.Observer.ObserveRetrieval("metadata", len(docs))
	r.state.Metadata = docs
	return EventMetadataRetrieved, nil
}

func (o *Orchestrator) keywordRouteCheck(r *run) (Event, error) {
	question := r.state.Request.Question
	for _, kw := range r.state.Request.Settings.RouteKeywords {
		if !containsKeyword(question, kw.Keyword) {
			continue
		}
		switch kw.Route {
		case domain.RouteSearch:
			r.state.Logf("Routing to search: found %q in the question", kw.Keyword)
			return EventKeywordSearch, nil
		case domain.RouteChat:
			r.state.Logf("Routing to chat: found %q in the question", kw.Keyword)
			return EventKeywordChat, nil
		case domain.RouteMetadataRetrieval:
			r.state.Logf("Routing to document information: found %q in the question", kw.Keyword)
			return EventKeywordMetadata, nil
		}
	}
	return EventNoKeyword, nil
}

func (o *Orchestrator) documentSelectionCheck(r *run) (Event, error) {
	if r.state.Request.HasSelection() {
		return EventHasSelection, nil
	}
	return EventNoSelection, nil
}

func (o *Orchestrator) chat(ctx context.Context, r *run) (Event, error) {
	req := r.state.Request
	tpl := req.Settings.Prompts.Chat
	history, fits, err := o.fitHistory(tpl, req.ChatHistory, req.Question, req.Settings)
	if err != nil {
		return EventCompleted, err
	}
	if !fits {
		r.state.Logf("The question alone exceeds the budget of %d tokens", req.Settings.InputBudget())
		return EventExceedsFatal, nil
	}
	if dropped := len(req.ChatHistory) - len(history); dropped > 0 {
		r.state.Logf("Dropped %d earlier messages to fit the conversation", dropped)
	}
	text, err := o.generate(ctx, r, tpl, history, prompting.Vars{Question: req.Question}, domain.StreamFinal, r.sink)
	if err != nil {
		return EventCompleted, err
	}
	r.state.Route = domain.RouteChat
	r.state.Text = text
	return EventCompleted, nil
}

func (o *Orchestrator) search(ctx context.Context, r *run) (Event, error) {
	req := r.state.Request
	question, err := o.condense(ctx, r)
	if err != nil {
		return EventCompleted, err
	}
	r.state.Logf("Searching your documents for %q", question)

	base, err := o.buildQuery(ctx, question, req.SearchScope(), req.Settings)
	if err != nil {
		return EventCompleted, err
	}
	initial, err := o.deps.Hybrid.Retrieve(ctx, base)
	if ev, handled, err := r.forbidden(err); handled {
		return ev, err
	}
	o.deps.Observer.ObserveRetrieval("hybrid", len(initial))

	ranked := initial
	if len(initial) > 0 {
		adjacentQuery := retrieval.AddDocumentFilterScores(base, initial, req.Settings.AdjacencyRadius, req.Settings.AdjacencyBoost)
		adjacent, err := o.deps.Hybrid.Retrieve(ctx, adjacentQuery)
		if ev, handled, err := r.forbidden(err); handled {
			return ev, err
		}
		o.deps.Observer.ObserveRetrieval("adjacent", len(adjacent))
		ranked = retrieval.Merge(initial, adjacent)
	}
	if req.Settings.ElbowFilterEnabled {
		before := len(ranked)
		ranked = retrieval.ElbowFilter(ranked)
		if dropped := before - len(ranked); dropped > 0 {
			r.state.Logf("Dropped %d low relevance snippets", dropped)
		}
	}
	r.state.SetDocuments(ranked)
	r.state.Logf("Reading %d snippets from your documents", len(ranked))

	text, err := o.generate(ctx, r, req.Settings.Prompts.Search, nil, prompting.Vars{
		Question:  question,
		Documents: ranked,
	}, domain.StreamFinal, r.sink)
	if err != nil {
		return EventCompleted, err
	}
	r.state.Route = domain.RouteSearch
	r.state.Text = text
	r.state.Citations = ExtractCitations(text, ranked)
	return EventCompleted, nil
}

func (o *Orchestrator) metadataAnswer(ctx context.Context, r *run) (Event, error) {
	req := r.state.Request
	if !req.HasSelection() {
		return EventNoDocuments, nil
	}
	text, err := o.generate(ctx, r, req.Settings.Prompts.Metadata, req.ChatHistory, prompting.Vars{
		Question: req.Question,
		Metadata: r.state.Metadata,
	}, domain.StreamFinal, r.sink)
	if err != nil {
		return EventCompleted, err
	}
	r.state.Route = domain.RouteMetadataRetrieval
	r.state.Text = text
	r.state.ClearDocuments()
	return EventCompleted, nil
}

func (o *Orchestrator) evaluateBudget(r *run) (Event, error) {
	req := r.state.Request
	overhead, err := o.documentOverhead(req)
	if err != nil {
		return EventCompleted, err
	}
	a := o.deps.Evaluator.Classify(r.state.Metadata, overhead, req.Settings.ContextWindowSize, req.Settings.LLMMaxTokens)
	r.state.Logf("Selected documents contain %d tokens against a budget of %d", a.TotalTokens, a.Budget)

	switch a.Class {
	case budget.Fits:
		return EventFits, nil
	case budget.ExceedsFatal:
		return EventExceedsFatal, nil
	case budget.ExceedsRecoverable:
		if req.Settings.SelfRouteEnabled {
			return EventSelfRouteRequested, nil
		}
		return EventExceedsRecoverable, nil
	default:
		return EventCompleted, fmt.Errorf("unknown budget class %s", a.Class)
	}
}

// selfRoute lets the model answer from a small hybrid sample before paying
// for full map-reduce. Its tokens are held back until it commits.
func (o *Orchestrator) selfRoute(ctx context.Context, r *run) (Event, error) {
	req := r.state.Request
	question, err := o.condense(ctx, r)
	if err != nil {
		return EventCompleted, err
	}
	r.state.Logf("Searching your documents for %q", question)

	query, err := o.buildQuery(ctx, question, req.EligibleSourceIDs(), req.Settings)
	if err != nil {
		return EventCompleted, err
	}
	docs, err := o.deps.Hybrid.Retrieve(ctx, query)
	if ev, handled, err := r.forbidden(err); handled {
		return ev, err
	}
	o.deps.Observer.ObserveRetrieval("self_route", len(docs))

	text, err := o.generate(ctx, r, req.Settings.Prompts.SelfRoute, nil, prompting.Vars{
		Question:  question,
		Documents: docs,
	}, domain.StreamSelfRoute, nil)
	if err != nil {
		return EventCompleted, err
	}
	if isUnanswerable(text) {
		r.state.Logf("The search results were not enough, reading the full documents instead")
		return EventUnanswerable, nil
	}

	if r.sink != nil && text != "" {
		r.sink(domain.StreamFinal, text)
	}
	r.state.Route = domain.RouteSearch
	r.state.Text = text
	r.state.Citations = ExtractCitations(text, docs)
	r.state.Logf("Answered from %d snippets", len(docs))
	return EventAnswered, nil
}

func (o *Orchestrator) chatWithDocuments(ctx context.Context, r *run) (Event, error) {
	req := r.state.Request
	if !req.HasSelection() {
		return EventNoDocuments, nil
	}
	docs, ev, handled, err := o.retrieveAllChunks(ctx, r)
	if handled {
		return ev, err
	}

	// Metadata token counts may be missing, so the text itself decides.
	overhead, err := o.documentOverhead(req)
	if err != nil {
		return EventCompleted, err
	}
	a := o.deps.Evaluator.Classify(docs, overhead, req.Settings.ContextWindowSize, req.Settings.LLMMaxTokens)
	switch a.Class {
	case budget.ExceedsFatal:
		r.state.Logf("Document text contains %d tokens, more than the budget of %d", a.TotalTokens, a.Budget)
		r.state.ClearDocuments()
		return EventExceedsFatal, nil
	case budget.ExceedsRecoverable:
		r.state.Logf("Document text contains %d tokens against a budget of %d, summarising in parts", a.TotalTokens, a.Budget)
		return EventExceedsRecoverable, nil
	}
	r.state.Logf("Reading %d snippets from your documents", len(docs))

	text, err := o.deps.Summarizer.Answer(ctx, o.summarizeInput(r), docs)
	if err != nil {
		return EventCompleted, err
	}
	r.state.Route = domain.RouteChatWithDocuments
	r.state.Text = text
	r.state.ClearDocuments()
	return EventCompleted, nil
}

func (o *Orchestrator) chatWithDocumentsMapReduce(ctx context.Context, r *run) (Event, error) {
	req := r.state.Request
	if !req.HasSelection() {
		return EventNoDocuments, nil
	}
	_, ev, handled, err := o.retrieveAllChunks(ctx, r)
	if handled {
		return ev, err
	}
	groups := r.state.Documents.Groups()
	r.state.Logf("Summarising %d documents", len(groups))

	res, err := o.deps.Summarizer.MapReduce(ctx, o.summarizeInput(r), groups)
	if domain.IsKind(err, domain.ErrContextTooLarge) {
		r.state.Logf("A document section is too large to summarise")
		r.state.ClearDocuments()
		return EventExceedsFatal, nil
	}
	if err != nil {
		return EventCompleted, err
	}
	r.state.Summaries = res.GroupSummaries
	r.state.Route = domain.RouteChatWithDocumentsMapReduce
	r.state.Text = res.Answer
	r.state.ClearDocuments()
	return EventCompleted, nil
}

func (o *Orchestrator) documentsTooLarge(r *run) (Event, error) {
	r.state.Route = domain.RouteDocumentsTooLarge
	r.state.Text = r.state.Request.Settings.ResponseMaxContentExceeded
	r.state.ClearDocuments()
	return EventCompleted, nil
}

func (o *Orchestrator) noDocumentSelected(r *run) (Event, error) {
	r.state.Route = domain.RouteNoDocumentSelected
	r.state.Text = r.state.Request.Settings.ResponseNoDocAvailable
	r.terminalErr = domain.WrapError(domain.ErrNoDocumentSelected, "orchestrator.run",
		errors.New("route requires documents but none were selected"))
	return EventCompleted, nil
}

func (o *Orchestrator) accessDenied(r *run) (Event, error) {
	r.state.Route = domain.RouteAccessDenied
	r.state.Text = r.state.Request.Settings.ResponseAccessDenied
	r.state.ClearDocuments()
	cause := r.cause
	if cause == nil {
		cause = errors.New("access denied")
	}
	if !domain.IsKind(cause, domain.ErrForbidden) {
		cause = domain.WrapError(domain.ErrForbidden, "orchestrator.run", cause)
	}
	r.terminalErr = cause
	return EventCompleted, nil
}

// forbidden turns an authorization failure into EventForbidden. Other errors
// are passed through as handled failures; nil means keep going.
func (r *run) forbidden(err error) (Event, bool, error) {
	if err == nil {
		return EventCompleted, false, nil
	}
	if domain.IsKind(err, domain.ErrForbidden) {
		r.cause = err
		return EventForbidden, true, nil
	}
	return EventCompleted, true, err
}

func (o *Orchestrator) retrieveAllChunks(ctx context.Context, r *run) ([]domain.Document, Event, bool, error) {
	if r.chunksLoaded {
		r.state.SetDocuments(r.chunks)
		return r.chunks, EventCompleted, false, nil
	}
	docs, err := o.deps.AllChunks.Retrieve(ctx, domain.SearchQuery{Filter: domain.SearchFilter{
		SourceIDs:  r.state.Request.EligibleSourceIDs(),
		Resolution: domain.ResolutionLargest,
	}})
	if ev, handled, err := r.forbidden(err); handled {
		return nil, ev, true, err
	}
	o.deps.Observer.ObserveRetrieval("all_chunks", len(docs))
	r.chunks, r.chunksLoaded = docs, true
	r.state.SetDocuments(docs)
	return docs, EventCompleted, false, nil
}

func (o *Orchestrator) condense(ctx context.Context, r *run) (string, error) {
	req := r.state.Request
	if len(req.ChatHistory) == 0 {
		r.state.CondensedQuestion = req.Question
		return req.Question, nil
	}
	text, err := o.generate(ctx, r, req.Settings.Prompts.Condense, req.ChatHistory, prompting.Vars{Question: req.Question}, "", nil)
	if err != nil {
		return "", fmt.Errorf("condense question: %w", err)
	}
	condensed := strings.TrimSpace(text)
	if condensed == "" {
		condensed = req.Question
	}
	r.state.CondensedQuestion = condensed
	return condensed, nil
}

func (o *Orchestrator) buildQuery(ctx context.Context, question string, sources []string, settings domain.AISettings) (domain.SearchQuery, error) {
	var vector []float32
	if settings.KNNBoost > 0 && len(sources) > 0 {
		v, err := o.deps.Embedder.EmbedQuery(ctx, question)
		if err != nil {
			return domain.SearchQuery{}, fmt.Errorf("embed query: %w", err)
		}
		vector = v
	}
	if len(sources) == 0 && settings.KNNBoost > 0 {
		// Nothing will be searched; keep the descriptor valid without embedding.
		settings.KNNBoost = 0
		if settings.MatchBoost == 0 {
			settings.MatchBoost = 1
		}
	}
	return retrieval.BuildDocumentQuery(retrieval.QueryInput{
		Text:       question,
		Vector:     vector,
		SourceIDs:  sources,
		Resolution: domain.ResolutionNormal,
		Settings:   settings,
	})
}

func (o *Orchestrator) generate(
	ctx context.Context,
	r *run,
	tpl domain.PromptTemplate,
	history []domain.ChatMessage,
	vars prompting.Vars,
	tag domain.StreamTag,
	sink ports.TokenSink,
) (string, error) {
	prompt, err := prompting.Render(tpl, history, vars)
	if err != nil {
		return "", err
	}
	return o.deps.Generator.Generate(ctx, prompt, ports.GenerateOptions{
		Tag:       tag,
		Sink:      sink,
		MaxTokens: r.state.Request.Settings.LLMMaxTokens,
	})
}

// documentOverhead is the larger of the single-pass and map prompt costs, so
// a fits verdict holds for either path.
func (o *Orchestrator) documentOverhead(req domain.Request) (int, error) {
	single, err := prompting.Render(req.Settings.Prompts.ChatWithDocuments, req.ChatHistory, prompting.Vars{Question: req.Question})
	if err != nil {
		return 0, err
	}
	mapped, err := prompting.Render(req.Settings.Prompts.MapDocument, nil, prompting.Vars{Question: req.Question})
	if err != nil {
		return 0, err
	}
	a := o.deps.Evaluator.CountText(prompting.Text(single))
	b := o.deps.Evaluator.CountText(prompting.Text(mapped))
	if b > a {
		return b, nil
	}
	return a, nil
}

// fitHistory drops the oldest messages until the rendered prompt fits. It
// reports false when the prompt does not fit even without history.
func (o *Orchestrator) fitHistory(tpl domain.PromptTemplate, history []domain.ChatMessage, question string, settings domain.AISettings) ([]domain.ChatMessage, bool, error) {
	limit := settings.InputBudget()
	for start := 0; start <= len(history); start++ {
		prompt, err := prompting.Render(tpl, history[start:], prompting.Vars{Question: question})
		if err != nil {
			return nil, false, err
		}
		if o.deps.Evaluator.CountText(prompting.Text(prompt)) <= limit {
			return history[start:], true, nil
		}
	}
	return nil, false, nil
}

func (o *Orchestrator) summarizeInput(r *run) summarize.Input {
	return summarize.Input{
		Question: r.state.Request.Question,
		History:  r.state.Request.ChatHistory,
		Settings: r.state.Request.Settings,
		Sink:     r.sink,
	}
}
