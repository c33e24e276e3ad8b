// Package raggate provides a Go client for the raggate retrieval gateway.
//
//	client := raggate.New("http://localhost:8080",
//	    raggate.WithAPIKey("secret"),
//	    raggate.WithCaller(raggate.Caller{Role: "agent", EmployeeID: "E1042"}),
//	)
//
//	res, _ := client.Search(ctx, "FYC 달성률", nil)
//
//	events, _ := client.ChatStream(ctx, "이번 달 정산 얼마야?", nil)
//	for ev := range events {
//	    if ev.Type == raggate.EventChunk {
//	        fmt.Print(ev.Chunk)
//	    }
//	}
package raggate
