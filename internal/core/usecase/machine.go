package usecase

import "fmt"

// State is a node of the orchestration graph.
type State int

const (
	StateRetrieveMetadata State = iota
	StateKeywordRouteCheck
	StateDocumentSelectionCheck
	StateChat
	StateSearch
	StateMetadataAnswer
	StateEvaluateBudget
	StateSelfRoute
	StateChatWithDocuments
	StateChatWithDocumentsMapReduce
	StateDocumentsTooLarge
	StateNoDocumentSelected
	StateAccessDenied
	StateDone
)

var stateNames = [...]string{
	StateRetrieveMetadata:           "retrieve_metadata",
	StateKeywordRouteCheck:          "keyword_route_check",
	StateDocumentSelectionCheck:     "document_selection_check",
	StateChat:                       "chat",
	StateSearch:                     "search",
	StateMetadataAnswer:             "metadata_answer",
	StateEvaluateBudget:             "evaluate_budget",
	StateSelfRoute:                  "self_route",
	StateChatWithDocuments:          "chat_with_documents",
	StateChatWithDocumentsMapReduce: "chat_with_documents_map_reduce",
	StateDocumentsTooLarge:          "documents_too_large",
	StateNoDocumentSelected:         "no_document_selected",
	StateAccessDenied:               "access_denied",
	StateDone:                       "done",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Event is the outcome a node reports to the transition function.
type Event int

const (
	EventMetadataRetrieved Event = iota
	EventForbidden
	EventKeywordSearch
	EventKeywordChat
	EventKeywordMetadata
	EventNoKeyword
	EventNoSelection
	EventHasSelection
	EventFits
	EventExceedsRecoverable
	EventSelfRouteRequested
	EventExceedsFatal
	EventAnswered
	EventUnanswerable
	EventNoDocuments
	EventCompleted
)

var eventNames = [...]string{
	EventMetadataRetrieved:  "metadata_retrieved",
	EventForbidden:          "forbidden",
	EventKeywordSearch:      "keyword_search",
	EventKeywordChat:        "keyword_chat",
	EventKeywordMetadata:    "keyword_metadata",
	EventNoKeyword:          "no_keyword",
	EventNoSelection:        "no_selection",
	EventHasSelection:       "has_selection",
	EventFits:               "fits",
	EventExceedsRecoverable: "exceeds_recoverable",
	EventSelfRouteRequested: "self_route_requested",
	EventExceedsFatal:       "exceeds_fatal",
	EventAnswered:           "answered",
	EventUnanswerable:       "unanswerable",
	EventNoDocuments:        "no_documents",
	EventCompleted:          "completed",
}

func (e Event) String() string {
	if e >= 0 && int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// Transition is the complete edge table of the orchestration graph.
func Transition(s State, e Event) (State, error) {
	switch s {
	case StateRetrieveMetadata:
		switch e {
		case EventMetadataRetrieved:
			return StateKeywordRouteCheck, nil
		case EventForbidden:
			return StateAccessDenied, nil
		}
	case StateKeywordRouteCheck:
		switch e {
		case EventKeywordSearch:
			return StateSearch, nil
		case EventKeywordChat:
			return StateChat, nil
		case EventKeywordMetadata:
			return StateMetadataAnswer, nil
		case EventNoKeyword:
			return StateDocumentSelectionCheck, nil
		}
	case StateDocumentSelectionCheck:
		switch e {
		case EventNoSelection:
			return StateChat, nil
		case EventHasSelection:
			return StateEvaluateBudget, nil
		}
	case StateChat:
		switch e {
		case EventCompleted:
			return StateDone, nil
		case EventExceedsFatal:
			return StateDocumentsTooLarge, nil
		}
	case StateSearch:
		switch e {
		case EventCompleted:
			return StateDone, nil
		case EventForbidden:
			return StateAccessDenied, nil
		}
	case StateMetadataAnswer:
		switch e {
		case EventCompleted:
			return StateDone, nil
		case EventNoDocuments:
			return StateNoDocumentSelected, nil
		}
	case StateEvaluateBudget:
		switch e {
		case EventFits:
			return StateChatWithDocuments, nil
		case EventExceedsRecoverable:
			return StateChatWithDocumentsMapReduce, nil
		case EventSelfRouteRequested:
			return StateSelfRoute, nil
		case EventExceedsFatal:
			return StateDocumentsTooLarge, nil
		}
	case StateSelfRoute:
		switch e {
		case EventAnswered:
			return StateDone, nil
		case EventUnanswerable:
			return StateChatWithDocumentsMapReduce, nil
		case EventForbidden:
			return StateAccessDenied, nil
		}
	case StateChatWithDocuments:
		switch e {
		case EventCompleted:
			return StateDone, nil
		case EventForbidden:
			return StateAccessDenied, nil
		case EventNoDocuments:
			return StateNoDocumentSelected, nil
		case EventExceedsRecoverable:
			return StateChatWithDocumentsMapReduce, nil
		case EventExceedsFatal:
			return StateDocumentsTooLarge, nil
		}
	case StateChatWithDocumentsMapReduce:
		switch e {
		case EventCompleted:
			return StateDone, nil
		case EventForbidden:
			return StateAccessDenied, nil
		case EventExceedsFatal:
			return StateDocumentsTooLarge, nil
		case EventNoDocuments:
			return StateNoDocumentSelected, nil
		}
	case StateDocumentsTooLarge, StateNoDocumentSelected, StateAccessDenied:
		if e == EventCompleted {
			return StateDone, nil
		}
	case StateDone:
		return StateDone, fmt.Errorf("orchestrator: no transitions out of %s", s)
	}
	return s, fmt.Errorf("orchestrator: invalid transition %s --%s-->", s, e)
}
