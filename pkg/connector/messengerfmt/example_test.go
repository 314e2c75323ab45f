// Copyright 2024-2026 Aiku AI

package messengerfmt_test

import (
	"fmt"

	"maunium.net/go/mautrix/id"

	"github.com/aiku/mautrix-fbmessenger/pkg/connector/messengerfmt"
	"github.com/aiku/mautrix-fbmessenger/pkg/messenger"
)

func ExampleParse() {
	resolve := func(userID string) (id.UserID, bool) {
		return id.NewUserID("facebook_"+userID, "example.com"), true
	}
	msg := messengerfmt.Parse("*see you* Bob", []messenger.Mention{{UserID: "200", Offset: 10, Length: 3}}, resolve)
	fmt.Println(msg.FormattedBody)
	// Output: <strong>see you</strong> <a href="https://matrix.to/#/@facebook_200:example.com">Bob</a>
}
