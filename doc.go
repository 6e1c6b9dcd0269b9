// Package coordinate is a workflow coordination engine: it drives
// multi-step, multi-participant operations to completion under three
// interoperable strategies unified behind one execution and
// failure-recovery model.
//
//   - Saga: an ordered list of steps, each paired with a compensating
//     action; a failure unwinds completed steps in strict reverse order.
//     For background on distributed sagas, see this 2017 JOTB talk by
//     Caitie McCaffrey: https://www.youtube.com/watch?v=0UTOLRTwOX0
//   - Two-phase commit: a parallel prepare vote round across participants,
//     then an atomic commit-or-abort decision.
//   - Orchestration: a DAG of tasks executed in dependency waves,
//     independent tasks concurrently, dependents only after their
//     prerequisites complete.
//
// Overview
//
//  1. Define units of work as functions and wrap them with UnitFunc, or
//     implement the Unit interface directly. Compose saga Steps,
//     Participants, or Tasks from them.
//  2. Register definitions in a Registry with RegisterSaga,
//     RegisterTransaction or RegisterOrchestration so runs can be
//     reconstructed from persistent storage after a restart.
//  3. Create a Supervisor with New, choosing a RecordStore (memory, file
//     or Redis), a LockBackend and an Observer through options.
//  4. Submit runs with Coordinate; call Recover on startup to resume or
//     safely finalize interrupted runs.
//
// Every state transition is persisted before the next external call, so a
// crash always resumes from the last durably recorded position, provided
// unit actions are idempotent. The engine exposes a programmatic API only;
// it defines no workflow definition format and mandates no wire protocol.
package coordinate
