package event

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		event   Event
		wantErr bool
	}{
		{"valid", Event{Name: PostPublished, WorkspaceID: "ws-1"}, false},
		{"custom name", Event{Name: "page.archived", WorkspaceID: "ws-1"}, false},
		{"empty name", Event{WorkspaceID: "ws-1"}, true},
		{"no dot", Event{Name: "published", WorkspaceID: "ws-1"}, true},
		{"no workspace", Event{Name: PostPublished}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.event.Validate()
			if (err != nil) != tc.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}
