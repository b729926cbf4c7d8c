// Package listsync embeds the listing search index synchronizer in a Go process.
//
// A CRM backend calls the lifecycle hooks after each canonical write; the client
// projects the listing, writes it to the Redis search index and dead-letters
// failures instead of returning them:
//
//	client, _ := listsync.New(ctx,
//	    listsync.WithRedis("localhost:6379", ""),
//	    listsync.WithDeadLetter("sqlite3", "file:sync_errors.db"),
//	    listsync.WithCanonical("postgres://localhost/crm"),
//	)
//	defer client.Close()
//
//	_ = client.OnUpdate(ctx, &listing)
//	report, _ := client.Reindex(ctx, listsync.ReindexOptions{
//		Caller:   user.Email,
//		Roles:    user.Roles,
//		PageSize: 1000,
//	})
//	failures, _ := client.SyncErrors(ctx, listing.ID, 20)
package listsync
