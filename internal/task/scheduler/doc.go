// Package scheduler triggers periodic maintenance jobs (session expiry,
// scratch cleanup) from cron specs. Execution is delegated to the task
// engine; the scheduler only computes trigger times and enqueues.
package scheduler
