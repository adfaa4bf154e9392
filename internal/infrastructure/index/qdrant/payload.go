package qdrant

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/kirillkom/docqa-orchestrator/internal/core/domain"
)

// documentFromPayload maps a point payload to a Document. Points without a
// source id are skipped. Numeric and list fields written as strings are
// re-parsed once; a field that still does not parse is treated as absent.
func (i *Index) documentFromPayload(payload map[string]*qdrant.Value) (domain.Document, bool) {
	sourceID := stringField(payload, payloadSourceID)
	if sourceID == "" {
		i.logger.Warn("qdrant_point_without_source_id")
		return domain.Document{}, false
	}

	meta := domain.DocumentMetadata{
		SourceID:         sourceID,
		CreatorType:      domain.CreatorType(stringField(payload, payloadCreatorType)),
		ParentDocumentID: stringField(payload, payloadParentID),
		Resolution:       domain.ResolutionTier(stringField(payload, payloadResolution)),
		Name:             stringField(payload, payloadName),
		Description:      stringField(payload, payloadDescription),
	}

	var ok bool
	if meta.ChunkIndex, ok = intField(payload, payloadChunkIndex); !ok {
		i.logger.Warn("qdrant_payload_field_unparsable", zap.String("source_id", sourceID), zap.String("field", payloadChunkIndex))
	}
	if meta.TokenCount, ok = intField(payload, payloadTokenCount); !ok {
		i.logger.Warn("qdrant_payload_field_unparsable", zap.String("source_id", sourceID), zap.String("field", payloadTokenCount))
	}
	if meta.Keywords, ok = stringListField(payload, payloadKeywords); !ok {
		i.logger.Warn("qdrant_payload_field_unparsable", zap.String("source_id", sourceID), zap.String("field", payloadKeywords))
	}

	return domain.Document{
		Text:     stringField(payload, payloadText),
		Metadata: meta,
	}, true
}

func stringField(payload map[string]*qdrant.Value, key string) string {
	v, ok := payload[key]
	if !ok || v == nil {
		return ""
	}
	return v.GetStringValue()
}

// intField reports false only when the field is present but unusable.
func intField(payload map[string]*qdrant.Value, key string) (int, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0, true
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_IntegerValue:
		return int(kind.IntegerValue), true
	case *qdrant.Value_DoubleValue:
		if kind.DoubleValue != math.Trunc(kind.DoubleValue) {
			return 0, false
		}
		return int(kind.DoubleValue), true
	case *qdrant.Value_StringValue:
		n, err := strconv.Atoi(strings.TrimSpace(kind.StringValue))
		if err != nil {
			return 0, false
		}
		return n, true
	case *qdrant.Value_NullValue:
		return 0, true
	default:
		return 0, false
	}
}

func stringListField(payload map[string]*qdrant.Value, key string) ([]string, bool) {
	v, ok := payload[key]
	if !ok || v == nil {
		return nil, true
	}
	switch kind := v.GetKind().(type) {
	case *qdrant.Value_ListValue:
		values := kind.ListValue.GetValues()
		out := make([]string, 0, len(values))
		for _, item := range values {
			if s := item.GetStringValue(); s != "" {
				out = append(out, s)
			}
		}
		return out, true
	case *qdrant.Value_StringValue:
		raw := strings.TrimSpace(kind.StringValue)
		if raw == "" {
			return nil, true
		}
		var out []string
		if err := json.Unmarshal([]byte(raw), &out); err != nil {
			return nil, false
		}
		return out, true
	case *qdrant.Value_NullValue:
		return nil, true
	default:
		return nil, false
	}
}
