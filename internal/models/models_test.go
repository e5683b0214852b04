package models

import "testing"

func TestParseRole(t *testing.T) {
	cases := map[string]Role{"buyer": RoleBuyer, " Farmer ": RoleFarmer}
	for in, want := range cases {
		got, err := ParseRole(in)
		if err != nil || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseRole("admin"); err == nil {
		t.Fatalf("expected error for unknown role")
	}
}

func TestConversationParticipants(t *testing.T) {
	conv := &Conversation{
		Buyer:  User{ID: 1, Role: RoleBuyer},
		Farmer: User{ID: 2, Role: RoleFarmer},
	}
	if other, ok := conv.OtherParticipant(1); !ok || other.ID != 2 {
		t.Fatalf("buyer's other participant = %+v, %v", other, ok)
	}
	if other, ok := conv.OtherParticipant(2); !ok || other.ID != 1 {
		t.Fatalf("farmer's other participant = %+v, %v", other, ok)
	}
	if _, ok := conv.OtherParticipant(3); ok {
		t.Fatalf("outsider should have no other participant")
	}
	if conv.IsParticipant(3) || !conv.IsParticipant(1) {
		t.Fatalf("IsParticipant mismatch")
	}
	if conv.ProductKey() != 0 {
		t.Fatalf("product key without product should be 0")
	}
	msg := &Message{SenderID: 1}
	if !msg.IsFromBuyer(conv) {
		t.Fatalf("message should be from buyer")
	}
}
