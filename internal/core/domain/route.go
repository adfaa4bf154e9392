package domain

import "fmt"

type Route int

const (
	RouteUnset Route = iota
	RouteChat
	RouteSearch
	RouteChatWithDocuments
	RouteChatWithDocumentsMapReduce
	RouteMetadataRetrieval
	RouteDocumentsTooLarge
	RouteNoDocumentSelected
	RouteAccessDenied
)

var routeNames = map[Route]string{
	RouteUnset:                      "",
	RouteChat:                       "chat",
	RouteSearch:                     "search",
	RouteChatWithDocuments:          "chat_with_documents",
	RouteChatWithDocumentsMapReduce: "chat_with_documents_map_reduce",
	RouteMetadataRetrieval:          "metadata_retrieval",
	RouteDocumentsTooLarge:          "documents_too_large",
	RouteNoDocumentSelected:         "no_document_selected",
	RouteAccessDenied:               "access_denied",
}

func (r Route) String() string {
	if name, ok := routeNames[r]; ok {
		return name
	}
	return fmt.Sprintf("route(%d)", int(r))
}

// IsError reports whether r terminates a run without a generated answer.
func (r Route) IsError() bool {
	switch r {
	case RouteDocumentsTooLarge, RouteNoDocumentSelected, RouteAccessDenied:
		return true
	default:
		return false
	}
}

func ParseRoute(s string) (Route, error) {
	for route, name := range routeNames {
		if route != RouteUnset && name == s {
			return route, nil
		}
	}
	return RouteUnset, fmt.Errorf("%w: unknown route %q", ErrInvalidInput, s)
}

func (r Route) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Route) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*r = RouteUnset
		return nil
	}
	parsed, err := ParseRoute(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
