package audit

import (
	"strings"
	"testing"

	"github.com/nextmed-labs/trustledger/pkg/enums"
)

func TestCanonicalBytesFieldOrder(t *testing.T) {
	e := Event{
		Seq:         7,
		TimestampMs: 1000,
		ActorRole:   enums.RoleSystem,
		Action:      ActionAnchorConfirm,
		TargetType:  enums.AuditTargetRequest,
		TargetID:    "req-1",
		Result:      enums.AuditResultOK,
		Detail:      map[string]any{"z": 1, "a": "x"},
		PrevHash:    "abc",
		Hash:        "ignored",
	}
	raw, err := CanonicalBytes(e)
	if err != nil {
		t.Fatalf("canonical: %v", err)
	}
	want := `{"seq":7,"timestampMs":1000,"actorRole":"system","action":"anchor.confirm","targetType":"request","targetId":"req-1","result":"ok","detail":{"a":"x","z":1},"prevHash":"abc"}`
	if string(raw) != want {
		t.Fatalf("unexpected canonical encoding\n got %s\nwant %s", raw, want)
	}
	if strings.Contains(string(raw), "ignored") {
		t.Fatalf("hash must not be part of its own input")
	}
}

func TestComputeHashIndependentOfDetailConstruction(t *testing.T) {
	a := map[string]any{}
	a["receipt"] = "r"
	a["count"] = 3
	b := map[string]any{"count": 3, "receipt": "r"}

	base := Event{Seq: 1, ActorRole: enums.RoleSystem, Action: "x", TargetType: enums.AuditTargetAudit, TargetID: "t", Result: enums.AuditResultOK, PrevHash: GenesisHash}
	ea, eb := base, base
	ea.Detail, eb.Detail = a, b

	ha, err := ComputeHash(ea)
	if err != nil {
		t.Fatalf("hash a: %v", err)
	}
	hb, err := ComputeHash(eb)
	if err != nil {
		t.Fatalf("hash b: %v", err)
	}
	if ha != hb {
		t.Fatalf("hashes differ for equal detail: %s vs %s", ha, hb)
	}

	empty := base
	empty.Detail = map[string]any{}
	he, _ := ComputeHash(empty)
	hn, _ := ComputeHash(base)
	if he != hn {
		t.Fatalf("empty and nil detail must hash the same")
	}
}

func TestNormalizeDetailMatchesJSONStorage(t *testing.T) {
	detail, err := normalizeDetail(map[string]any{"fromMs": int64(1_700_000_000_000), "count": 2})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	if _, ok := detail["fromMs"].(float64); !ok {
		t.Fatalf("expected JSON number form, got %T", detail["fromMs"])
	}
	raw, _ := CanonicalBytes(Event{Detail: detail})
	if !strings.Contains(string(raw), `"fromMs":1700000000000`) {
		t.Fatalf("large millisecond values must encode without exponent: %s", raw)
	}
}
