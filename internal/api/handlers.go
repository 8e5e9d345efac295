package api

import (
	"encoding/json"
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/miradorstack/mirador-incidents/internal/ingest"
	"github.com/miradorstack/mirador-incidents/internal/models"
)

// DetectRequest is the decoded form of a DetectIncidents request.
type DetectRequest struct {
	Table   *models.EventTable
	Summary bool
}

// FromProtoDetectRequest maps the request struct into an event table. The
// struct carries an optional "source" string, an "events" list of flat
// objects and an optional "summary" flag.
func FromProtoDetectRequest(req *structpb.Struct) (DetectRequest, error) {
	if req == nil {
		return DetectRequest{}, fmt.Errorf("request is nil")
	}
	fields := req.GetFields()

	source := "grpc"
	if v, ok := fields["source"]; ok {
		s, ok := v.GetKind().(*structpb.Value_StringValue)
		if !ok {
			return DetectRequest{}, fmt.Errorf("source must be a string")
		}
		if s.StringValue != "" {
			source = s.StringValue
		}
	}

	eventsValue, ok := fields["events"]
	if !ok {
		return DetectRequest{}, fmt.Errorf("events is required")
	}
	list := eventsValue.GetListValue()
	if list == nil {
		return DetectRequest{}, fmt.Errorf("events must be a list")
	}

	records := make([]map[string]any, 0, len(list.GetValues()))
	for i, value := range list.GetValues() {
		obj := value.GetStructValue()
		if obj == nil {
			return DetectRequest{}, fmt.Errorf("events[%d] must be an object", i)
		}
		records = append(records, obj.AsMap())
	}
	table, err := ingest.FromRecords(source, records)
	if err != nil {
		return DetectRequest{}, err
	}

	summary := false
	if v, ok := fields["summary"]; ok {
		summary = v.GetBoolValue()
	}
	return DetectRequest{Table: table, Summary: summary}, nil
}

// ToProtoReport converts a JSON encoded report into the response struct.
func ToProtoReport(data []byte) (*structpb.Struct, error) {
	var payload map[string]any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	out, err := structpb.NewStruct(payload)
	if err != nil {
		return nil, fmt.Errorf("encode report: %w", err)
	}
	return out, nil
}
