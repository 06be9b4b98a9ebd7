/*
Package jobs supervises pipelines running as process groups.

Every pipeline gets its own leader process. The leader is this very
executable started again with LeaderEnv set, so main packages must hand over
to leader.Main before doing anything else. The leader reads the compiled
Plan from descriptor 3, starts one process per stage inside its process
group and exits the way its last stage did.

	Submit --compile--> Plan --fd 3--> leader --+--> stage 0 --pipe--> stage 1 ...
	   |                                        |
	   +-- capture pipe <-----------------------+---- stdout of the last stage
	   |
	watch (cmd.Wait) --+
	drain (4 KiB reads)+--> events --> loop --> Table (under Manager.mu)
	                                    |
	                                    +--> Pause wakes up

Only the notification loop changes the state of a submitted job. A job is
Completed when its leader exited, Canceled when it died from the SIGKILL sent
by Cancel and Aborted otherwise. Captured output is kept for completed jobs
only and stays available until the job is expunged.
*/
package jobs
