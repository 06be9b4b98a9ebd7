// Package service runs the configured pipelines in rounds.
//
// The Supervisor owns a jobs.Manager and a list of named pipelines. A round
// submits every pipeline, waits for all of them concurrently and hands the
// captured output of each completed pipeline to the sinks: a writer, a
// directory or an HTTP endpoint. Finished jobs are expunged right away, the
// job table only ever holds the jobs of the running round.
//
//	Supervisor.Do                 round                   jobs.Manager
//	     |                          |                          |
//	Start() --> start ------------->| Submit(pipeline) ------->| leader per pipeline
//	     |                          | parallel.Map(Wait) ----->|
//	     |                          |<-------- status ---------|
//	     |                          | Output, Expunge -------->|
//	     |                          | Sink.Store               |
//	     |<-------- error ----------|                          |
//
// In manual mode Do runs one round and returns its error. In timer mode a
// gocron scheduler calls Start and Do runs until its context ends. A round is
// never started while another one runs.
package service
