// Package crawler defines the shared domain model of the job crawler: source
// configurations, crawl outcomes, domain policies, raw and normalized job
// records, and the collaborator interfaces (stores, sinks, locks, secrets)
// the executor and orchestrator are wired against.
package crawler
