package adsapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"adpilot/contexts/ad-automation/automation-engine/ports"
)

// The platform answers in two dialects. Newer endpoints wrap items in an
// entity keyed object with success and error lists; older ones reply with a
// flat array of per-item results. Both are decoded through generic maps.

type object = map[string]any

func decodeAny(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// listItems extracts the item list from either {"<entity>": [...]} or [...].
func listItems(raw json.RawMessage, entityKey string) ([]object, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, nil
	}
	decoded, err := decodeAny(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s list: %w", entityKey, err)
	}
	var items []any
	switch v := decoded.(type) {
	case []any:
		items = v
	case object:
		nested, ok := v[entityKey].([]any)
		if !ok {
			return nil, nil
		}
		items = nested
	default:
		return nil, fmt.Errorf("decode %s list: unexpected payload", entityKey)
	}
	out := make([]object, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(object); ok {
			out = append(out, obj)
		}
	}
	return out, nil
}

// mutationResults normalizes a bulk write response. Results are re-indexed
// by offset so chunked calls line up with the caller's input slice.
func mutationResults(raw json.RawMessage, entityKey, idField string, offset, size int) ([]ports.MutationResult, error) {
	decoded, err := decodeAny(raw)
	if err != nil {
		return nil, fmt.Errorf("decode %s mutation: %w", entityKey, err)
	}

	var results []ports.MutationResult
	switch v := decoded.(type) {
	case []any:
		for i, item := range v {
			obj, _ := item.(object)
			code := str(obj["code"])
			results = append(results, ports.MutationResult{
				Index:   offset + i,
				ID:      str(obj[idField]),
				Success: strings.EqualFold(code, "SUCCESS"),
				Code:    code,
				Message: firstNonEmpty(str(obj["description"]), str(obj["details"])),
			})
		}
	case object:
		body := v
		if nested, ok := v[entityKey].(object); ok {
			body = nested
		}
		for _, item := range asList(body["success"]) {
			results = append(results, ports.MutationResult{
				Index:   offset + index(item["index"]),
				ID:      str(item[idField]),
				Success: true,
				Code:    "SUCCESS",
			})
		}
		for _, item := range asList(body["error"]) {
			code, message := firstError(item["errors"])
			results = append(results, ports.MutationResult{
				Index:   offset + index(item["index"]),
				Code:    code,
				Message: message,
			})
		}
	default:
		return nil, fmt.Errorf("decode %s mutation: unexpected payload", entityKey)
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return fillMissing(results, offset, size), nil
}

// fillMissing reports items the platform silently dropped as failures.
func fillMissing(results []ports.MutationResult, offset, size int) []ports.MutationResult {
	seen := make(map[int]bool, len(results))
	for _, r := range results {
		seen[r.Index] = true
	}
	for i := offset; i < offset+size; i++ {
		if !seen[i] {
			results = append(results, ports.MutationResult{Index: i, Code: "MISSING_RESULT", Message: "no result returned for item"})
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results
}

func firstError(value any) (string, string) {
	for _, item := range asList(value) {
		code := firstNonEmpty(str(item["errorType"]), str(item["code"]))
		message := firstNonEmpty(str(item["message"]), str(item["description"]))
		if message == "" {
			if detail, ok := item["errorValue"].(object); ok {
				for _, nested := range detail {
					if obj, ok := nested.(object); ok {
						message = firstNonEmpty(str(obj["message"]), str(obj["reason"]))
						break
					}
				}
			}
		}
		return firstNonEmpty(code, "ERROR"), message
	}
	return "ERROR", ""
}

func asList(value any) []object {
	items, _ := value.([]any)
	out := make([]object, 0, len(items))
	for _, item := range items {
		if obj, ok := item.(object); ok {
			out = append(out, obj)
		}
	}
	return out
}

func str(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func number(value any) (float64, bool) {
	switch v := value.(type) {
	case json.Number:
		f, err := v.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func index(value any) int {
	f, ok := number(value)
	if !ok {
		return 0
	}
	return int(f)
}

func optionalNumber(value any) *float64 {
	f, ok := number(value)
	if !ok {
		return nil
	}
	return &f
}

func toKeyword(item object) ports.KeywordRecord {
	return ports.KeywordRecord{
		KeywordID:   str(item["keywordId"]),
		CampaignID:  str(item["campaignId"]),
		AdGroupID:   str(item["adGroupId"]),
		KeywordText: str(item["keywordText"]),
		MatchType:   strings.ToUpper(str(item["matchType"])),
		State:       strings.ToUpper(str(item["state"])),
		Bid:         optionalNumber(item["bid"]),
	}
}

func toTarget(item object) ports.TargetRecord {
	var parts []string
	for _, expr := range asList(item["expression"]) {
		if v := str(expr["value"]); v != "" {
			parts = append(parts, v)
		}
	}
	return ports.TargetRecord{
		TargetID:   firstNonEmpty(str(item["targetId"]), str(item["id"])),
		CampaignID: str(item["campaignId"]),
		AdGroupID:  str(item["adGroupId"]),
		Expression: strings.Join(parts, ","),
		State:      strings.ToUpper(str(item["state"])),
		Bid:        optionalNumber(item["bid"]),
	}
}

func toAdGroup(item object) ports.AdGroupRecord {
	bid, _ := number(item["defaultBid"])
	return ports.AdGroupRecord{
		AdGroupID:  str(item["adGroupId"]),
		CampaignID: str(item["campaignId"]),
		Name:       str(item["name"]),
		DefaultBid: bid,
	}
}

func toCampaign(item object) ports.CampaignRecord {
	budget, ok := number(item["dailyBudget"])
	if !ok {
		if nested, isObj := item["budget"].(object); isObj {
			budget, _ = number(nested["budget"])
		}
	}
	return ports.CampaignRecord{
		CampaignID:  str(item["campaignId"]),
		Name:        str(item["name"]),
		State:       strings.ToUpper(str(item["state"])),
		DailyBudget: budget,
	}
}
