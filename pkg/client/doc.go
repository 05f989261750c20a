// Package client is the Go SDK for the caseledger API.
//
// Lawyers open cases and record work logs, clients accept cases and grant
// auditors access, and auditors verify logs against the case ledger:
//
//	c, err := client.New("https://caseledger.example.com",
//	    client.WithBearerToken(os.Getenv("CASELEDGER_TOKEN")),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	cs, _ := c.CreateCase(ctx, "12", "Estate planning")
//	entry, _ := c.AddLog(ctx, cs.ID, "Drafted will", 90)
//
// Edits never overwrite a log; they return the new version:
//
//	edited, _ := c.EditLog(ctx, cs.ID, entry.ID, "Drafted and reviewed will", 120)
//	fmt.Println(edited.ID, edited.Version) // L-C-7-12-01-02 2
//
// Verification reports are plain structs and can be rendered as JSON or YAML:
//
//	report, err := c.VerifyCase(ctx, cs.ID)
//	if errors.Is(err, client.ErrForbidden) {
//	    // no active grant
//	}
//
// Non-2xx responses are returned as *APIError, which matches ErrNotFound,
// ErrForbidden, ErrConflict, ErrUnauthenticated and ErrUnavailable with
// errors.Is.
package client
