package protocol

import (
	"encoding/json"
	"testing"
)

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr bool
		check   func(t *testing.T, msg Message)
	}{
		{
			name:  "newItem",
			frame: `{"action":"new","item":{"id":"i1","table":3,"category":"kitchen","status":"pending","text":"2 σουβλάκια"}}`,
			check: func(t *testing.T, msg Message) {
				if msg.Action != ActionNew {
					t.Errorf("Action = %q", msg.Action)
				}
				if msg.Item == nil || msg.Item.ID != "i1" || msg.Item.Table != 3 {
					t.Errorf("Item = %+v", msg.Item)
				}
			},
		},
		{
			name:  "metaUpdate",
			frame: `{"action":"meta_update","table":4,"meta":{"people":2,"bread":true}}`,
			check: func(t *testing.T, msg Message) {
				if msg.Table == nil || *msg.Table != 4 {
					t.Errorf("Table = %v", msg.Table)
				}
				if msg.Meta == nil || msg.Meta.People == nil || *msg.Meta.People != 2 || !msg.Meta.Bread {
					t.Errorf("Meta = %+v", msg.Meta)
				}
			},
		},
		{
			name:  "notify",
			frame: `{"action":"notify","message":"ψωμί στο 4"}`,
			check: func(t *testing.T, msg Message) {
				if msg.Text != "ψωμί στο 4" {
					t.Errorf("Text = %q", msg.Text)
				}
			},
		},
		{
			name:    "missingAction",
			frame:   `{"item_id":"i1"}`,
			wantErr: true,
		},
		{
			name:    "invalidJSON",
			frame:   `{"action":`,
			wantErr: true,
		},
		{
			name:    "empty",
			frame:   ``,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Decode([]byte(tt.frame))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode(%q) succeeded, want error", tt.frame)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode(%q) = %v", tt.frame, err)
			}
			tt.check(t, msg)
		})
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	table := 5
	in := Message{Action: ActionFinalizeTable, Table: &table}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("Encode() = %v", err)
	}

	out, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() = %v", err)
	}
	if out.Action != ActionFinalizeTable || out.Table == nil || *out.Table != 5 {
		t.Errorf("round trip = %+v", out)
	}
}

func TestCommandBuilders(t *testing.T) {
	msg := MarkDone("i1")
	if msg.Action != ActionMarkDone || msg.ItemID != "i1" {
		t.Errorf("MarkDone = %+v", msg)
	}

	msg = FinalizeTable(7)
	if msg.Action != ActionFinalizeTable || msg.Table == nil || *msg.Table != 7 {
		t.Errorf("FinalizeTable = %+v", msg)
	}
}

func TestTerminal(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{StatusPending, false},
		{StatusDone, true},
		{StatusCancelled, true},
		{"", false},
	}

	for _, tt := range tests {
		it := OrderItem{Status: tt.status}
		if got := it.Terminal(); got != tt.want {
			t.Errorf("Terminal(%q) = %v, want %v", tt.status, got, tt.want)
		}
	}
}

func TestDisplayText(t *testing.T) {
	it := OrderItem{Text: "2 σουβλάκια"}
	if got := it.DisplayText(); got != "2 σουβλάκια" {
		t.Errorf("DisplayText() = %q", got)
	}

	it.MenuName = "Σουβλάκι χοιρινό"
	if got := it.DisplayText(); got != "Σουβλάκι χοιρινό" {
		t.Errorf("DisplayText() = %q, want menu name to win", got)
	}
}

func TestQuantity(t *testing.T) {
	c := Count(2).Add(Count(1))
	if c.IsWeight() || c.Value() != 3 {
		t.Errorf("count sum = %+v", c)
	}

	w := Weight(1.5).Add(Weight(0.5))
	if !w.IsWeight() || w.Value() != 2 {
		t.Errorf("weight sum = %+v", w)
	}
}

func TestQuantityJSON(t *testing.T) {
	data, err := json.Marshal(Weight(1.5))
	if err != nil {
		t.Fatalf("Marshal = %v", err)
	}
	want := `{"kind":"weight","value":1.5}`
	if string(data) != want {
		t.Errorf("Marshal = %s, want %s", data, want)
	}
}
