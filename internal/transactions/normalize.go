package transactions

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/mbd888/merchantshield/internal/idgen"
	"github.com/mbd888/merchantshield/internal/metrics"
	"github.com/mbd888/merchantshield/internal/risk"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// UnknownMerchant is used when a record names no merchant.
const UnknownMerchant = "unknown"

// path is a candidate location of a field: nested under an object, or at
// the top level when parent is empty.
type path struct {
	parent string
	key    string
}

var (
	idPaths = []path{
		{"transaction", "transaction_id"},
		{"transaction", "_id"},
		{"", "transaction_id"},
		{"", "_id"},
		{"", "id"},
	}
	usernamePaths = []path{
		{"transaction", "username"},
		{"", "username"},
		{"", "merchant_username"},
	}
	timestampPaths = []path{
		{"transaction", "date/time"},
		{"transaction", "timestamp"},
		{"", "date/time"},
		{"", "timestamp"},
		{"", "created_at"},
	}
	probabilityPaths = []path{
		{"response", "fraud_probability"},
		{"", "fraud_probability"},
		{"transaction", "fraud_probability"},
		{"result", "fraud_probability"},
	}
	payloadParents = []string{"transaction", "payload"}
)

// Normalizer turns raw listings into records.
type Normalizer struct {
	logger *slog.Logger
	now    func() time.Time
}

// NewNormalizer creates a normaliser logging dropped entries to logger.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Normalizer{logger: logger, now: time.Now}
}

// NormalizeList normalises raw with the default logger.
func NormalizeList(raw json.RawMessage) []Record {
	return NewNormalizer(nil).NormalizeList(raw)
}

// NormalizeList extracts the list from any of the accepted shapes, maps
// each object entry to a Record and sorts newest first. It never fails:
// unrecognised input yields an empty slice and non-object entries are
// dropped.
func (n *Normalizer) NormalizeList(raw json.RawMessage) []Record {
	entries := extractList(raw)
	records := make([]Record, 0, len(entries))
	for i, entry := range entries {
		fields, ok := decodeObject(entry)
		if !ok {
			metrics.RecordsNormalizedTotal.WithLabelValues("dropped").Inc()
			n.logger.Warn("dropping malformed transaction entry", "index", i, "entry", truncate(entry, 80))
			continue
		}
		records = append(records, n.normalize(fields, i))
		metrics.RecordsNormalizedTotal.WithLabelValues("kept").Inc()
	}

	keys := make([]time.Time, len(records))
	for i := range records {
		keys[i] = parseTimestamp(records[i].Timestamp)
	}
	idx := make([]int, len(records))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return keys[idx[a]].After(keys[idx[b]])
	})
	sorted := make([]Record, len(records))
	for i, j := range idx {
		sorted[i] = records[j]
	}
	return sorted
}

// extractList tries, in order: a top-level array, a "transactions" array,
// a "data" array, then the first array-valued field in document order.
func extractList(raw json.RawMessage) []json.RawMessage {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil
	}

	switch trimmed[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(trimmed, &list); err != nil {
			return nil
		}
		return list
	case '{':
		om := orderedmap.New[string, json.RawMessage]()
		if err := json.Unmarshal(trimmed, om); err != nil {
			return nil
		}
		for _, name := range []string{"transactions", "data"} {
			if v, ok := om.Get(name); ok {
				if list, ok := asArray(v); ok {
					return list
				}
			}
		}
		for pair := om.Oldest(); pair != nil; pair = pair.Next() {
			if list, ok := asArray(pair.Value); ok {
				return list
			}
		}
	}
	return nil
}

func asArray(v json.RawMessage) ([]json.RawMessage, bool) {
	t := bytes.TrimSpace(v)
	if len(t) == 0 || t[0] != '[' {
		return nil, false
	}
	var list []json.RawMessage
	if err := json.Unmarshal(t, &list); err != nil {
		return nil, false
	}
	return list, true
}

func decodeObject(entry json.RawMessage) (map[string]any, bool) {
	t := bytes.TrimSpace(entry)
	if len(t) == 0 || t[0] != '{' {
		return nil, false
	}
	dec := json.NewDecoder(bytes.NewReader(t))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, false
	}
	return fields, true
}

func (n *Normalizer) normalize(fields map[string]any, index int) Record {
	id := firstString(fields, idPaths)
	if id == "" {
		id = fmt.Sprintf("TXN-%d", index)
	}

	username := firstString(fields, usernamePaths)
	if username == "" {
		username = UnknownMerchant
	}

	timestamp := n.timestamp(fields)

	p := 0.0
	for _, c := range probabilityPaths {
		if v, ok := lookup(fields, c); ok {
			if f, ok := risk.Number(v); ok {
				p = risk.ClampProbability(f)
				break
			}
		}
	}
	label, explanation := risk.Classify(p)

	return Record{
		TransactionID:    idgen.Short(id),
		FraudProbability: p,
		RiskLabel:        label,
		Timestamp:        timestamp,
		MerchantUsername: username,
		Payload:          risk.FeaturesFrom(payloadSource(fields)),
		Explanation:      explanation,
	}
}

func (n *Normalizer) timestamp(fields map[string]any) string {
	for _, c := range timestampPaths {
		v, ok := lookup(fields, c)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if x != "" {
				return x
			}
		case json.Number:
			if secs, err := x.Float64(); err == nil && !math.IsInf(secs, 0) && !math.IsNaN(secs) {
				whole, frac := math.Modf(secs)
				return time.Unix(int64(whole), int64(frac*1e9)).UTC().Format(time.RFC3339Nano)
			}
		}
	}
	return n.now().UTC().Format(time.RFC3339)
}

func payloadSource(fields map[string]any) map[string]any {
	for _, name := range payloadParents {
		if obj, ok := fields[name].(map[string]any); ok {
			return obj
		}
	}
	return fields
}

func lookup(fields map[string]any, c path) (any, bool) {
	src := fields
	if c.parent != "" {
		obj, ok := fields[c.parent].(map[string]any)
		if !ok {
			return nil, false
		}
		src = obj
	}
	v, ok := src[c.key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// firstString returns the first candidate holding a non-empty string or a
// number, as text.
func firstString(fields map[string]any, candidates []path) string {
	for _, c := range candidates {
		v, ok := lookup(fields, c)
		if !ok {
			continue
		}
		switch x := v.(type) {
		case string:
			if x != "" {
				return x
			}
		case json.Number:
			return x.String()
		}
	}
	return ""
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC1123,
	time.RFC1123Z,
	"2006-01-02",
}

// parseTimestamp returns the zero time when s matches no known layout, so
// such records sort oldest.
func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
