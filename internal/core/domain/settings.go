package domain

// PromptTemplate is a system/human pair rendered with Go template syntax.
// Available fields: .question, .documents, .summaries, .metadata.
type PromptTemplate struct {
	System   string `yaml:"system"`
	Question string `yaml:"question"`
}

type PromptSet struct {
	Chat              PromptTemplate `yaml:"chat"`
	Condense          PromptTemplate `yaml:"condense"`
	Search            PromptTemplate `yaml:"search"`
	Metadata          PromptTemplate `yaml:"metadata"`
	ChatWithDocuments PromptTemplate `yaml:"chat_with_documents"`
	SelfRoute         PromptTemplate `yaml:"self_route"`
	MapDocument       PromptTemplate `yaml:"map_document"`
	ReduceGroup       PromptTemplate `yaml:"reduce_group"`
	MapReduceAnswer   PromptTemplate `yaml:"map_reduce_answer"`
}

type KeywordRoute struct {
	Keyword string `yaml:"keyword"`
	Route   Route  `yaml:"route"`
}

// AISettings is loaded once and read-only for the lifetime of a request.
type AISettings struct {
	SelfRouteEnabled   bool `yaml:"self_route_enabled"`
	ElbowFilterEnabled bool `yaml:"elbow_filter_enabled"`

	MatchBoost          float64 `yaml:"match_boost"`
	KNNBoost            float64 `yaml:"knn_boost"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RAGSize             int     `yaml:"rag_size"`
	RAGNumCandidates    int     `yaml:"rag_num_candidates"`
	AdjacencyRadius     int     `yaml:"adjacency_radius"`
	AdjacencyBoost      float64 `yaml:"adjacency_boost"`

	ContextWindowSize int `yaml:"context_window_size"`
	LLMMaxTokens      int `yaml:"llm_max_tokens"`
	MaxConcurrency    int `yaml:"max_concurrency"`

	RouteKeywords []KeywordRoute `yaml:"route_keywords"`
	Prompts       PromptSet      `yaml:"prompts"`

	ResponseNoDocAvailable     string `yaml:"response_no_doc_available"`
	ResponseMaxContentExceeded string `yaml:"response_max_content_exceeded"`
	ResponseAccessDenied       string `yaml:"response_access_denied"`
}

// InputBudget is the token budget left for prompt input after reserving the
// response.
func (s AISettings) InputBudget() int {
	return s.ContextWindowSize - s.LLMMaxTokens
}

func DefaultAISettings() AISettings {
	return AISettings{
		MatchBoost:          1,
		KNNBoost:            1,
		SimilarityThreshold: 0,
		RAGSize:             30,
		RAGNumCandidates:    100,
		AdjacencyRadius:     2,
		AdjacencyBoost:      1,

		ContextWindowSize: 128000,
		LLMMaxTokens:      1024,
		MaxConcurrency:    8,

		RouteKeywords: []KeywordRoute{
			{Keyword: "@search", Route: RouteSearch},
			{Keyword: "search the internet", Route: RouteSearch},
			{Keyword: "search the web", Route: RouteSearch},
			{Keyword: "@chat", Route: RouteChat},
			{Keyword: "@info", Route: RouteMetadataRetrieval},
		},
		Prompts: DefaultPrompts(),

		ResponseNoDocAvailable:     "No available data for selected files. They may need to be removed and added again",
		ResponseMaxContentExceeded: "Max content exceeded. Try smaller or fewer documents",
		ResponseAccessDenied:       "You do not have access to one or more of the selected files",
	}
}

func DefaultPrompts() PromptSet {
	return PromptSet{
		Chat: PromptTemplate{
			System:   "You are a helpful assistant. Answer the user's question clearly and concisely.",
			Question: "{{.question}}",
		},
		Condense: PromptTemplate{
			System:   "Rewrite the latest user question as a standalone question using the conversation so far. Return only the rewritten question.",
			Question: "{{.question}}",
		},
		Search: PromptTemplate{
			System: "Answer the question using only the numbered documents below. " +
				"Cite every document you rely on with its number in square brackets, for example [1]. " +
				"If the documents do not contain the answer, say that no relevant information was found.\n\n{{.documents}}",
			Question: "{{.question}}",
		},
		Metadata: PromptTemplate{
			System:   "Answer the question using only the following information about the user's documents.\n\n{{.metadata}}",
			Question: "{{.question}}",
		},
		ChatWithDocuments: PromptTemplate{
			System: "Answer the question using the documents below. " +
				"If they do not contain relevant information, say so.\n\n{{.documents}}",
			Question: "{{.question}}",
		},
		SelfRoute: PromptTemplate{
			System: "Answer the question using only the numbered documents below and cite them as [n]. " +
				"If the documents are not enough to answer, reply with the single word: unanswerable\n\n{{.documents}}",
			Question: "{{.question}}",
		},
		MapDocument: PromptTemplate{
			System:   "Summarise the following passage, keeping every detail relevant to the question.\n\n{{.documents}}",
			Question: "{{.question}}",
		},
		ReduceGroup: PromptTemplate{
			System:   "Combine the following partial summaries of one document into a single summary. Summaries are separated by ' ; '.\n\n{{.summaries}}",
			Question: "{{.question}}",
		},
		MapReduceAnswer: PromptTemplate{
			System:   "Answer the question using the following document summaries.\n\n{{.summaries}}",
			Question: "{{.question}}",
		},
	}
}
