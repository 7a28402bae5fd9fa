// Package handlers holds the reusable pieces of the state server: health
// checks and middleware.
//
// # Health Checks
//
// Named checks run in parallel and are aggregated into one status:
//
//	checker := handlers.NewCompositeHealthChecker("v1.0.0")
//	checker.AddCheck("store", handlers.NewPingCheck(store))
//	checker.AddCheck("roster_cache", handlers.NewPingCheck(cache))
//
//	status := checker.Check(ctx)
//
// # Authentication
//
// API keys are never configured in clear. Operators store bcrypt hashes
// (see HashKey) and APIKeyAuth compares the Authorization header of each
// request against them:
//
//	auth := handlers.NewAPIKeyAuth(cfg.APIKeyHashes)
//	router.Use(auth.Middleware)
package handlers
