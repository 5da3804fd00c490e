// Copyright 2023 The ppacer Authors.
// Licensed under the Apache License, Version 2.0.
// See LICENSE file in the project root for full license information.

package db

import (
	"database/sql"
	"fmt"
)

// TableNames is a list of scheduler database table names.
var TableNames []string = []string{
	"dagruns",
	"dagruntasks",
	"schedules",
}

// SchemaStatements returns a list of SQL statements that setups new instance
// of scheduler internal database. It can differ a little bit between SQL
// databases, so exact list of statements are prepared based on given database
// driver.
func SchemaStatements(dbDriver Driver) ([]string, error) {
	switch dbDriver {
	case SQLite:
		return []string{
			sqliteSetupWAL(),
			createDagrunsTable(),
			createDagrunsDagIdIndex(),
			createDagruntasksTable(),
			createSchedulesTable(),
		}, nil
	case Postgres:
		return []string{
			createDagrunsTable(),
			createDagrunsDagIdIndex(),
			createDagruntasksTable(),
			createSchedulesTable(),
		}, nil
	}
	return []string{}, fmt.Errorf("there is no schema for %s driver defined",
		dbDriver)
}

func setupSchema(dbConn *sql.DB, dbDriver Driver) error {
	stmts, err := SchemaStatements(dbDriver)
	if err != nil {
		return err
	}
	return execSqlStatements(dbConn, stmts)
}

func execSqlStatements(dbConn *sql.DB, stmts []string) error {
	for _, stmt := range stmts {
		if _, err := dbConn.Exec(stmt); err != nil {
			return fmt.Errorf("cannot execute schema statement: %w", err)
		}
	}
	return nil
}

func sqliteSetupWAL() string {
	return "PRAGMA journal_mode = WAL;"
}

func createDagrunsTable() string {
	return `
-- Table dagruns stores DAG runs information. Runs might be both scheduled or
-- manually triggered.
CREATE TABLE IF NOT EXISTS dagruns (
    RunId TEXT NOT NULL,            -- Run ID (UUID)
    DagId TEXT NOT NULL,            -- DAG ID
    TriggerTs TEXT NOT NULL,        -- Schedule or manual trigger timestamp
    TriggerEvent TEXT NOT NULL,     -- REGULAR or MANUALLY_TRIGGERED
    InsertTs TEXT NOT NULL,         -- Row insertion timestamp
    Status TEXT NOT NULL,           -- DAG run status
    StatusUpdateTs TEXT NOT NULL,   -- Status update timestamp (on first insert it's the same as InsertTs)
    Version TEXT NOT NULL,          -- Scheduler Version

    PRIMARY KEY (RunId)
);
`
}

func createDagrunsDagIdIndex() string {
	return `
CREATE INDEX IF NOT EXISTS dagruns_dagid_triggerts ON dagruns (DagId, TriggerTs);
`
}

func createDagruntasksTable() string {
	return `
-- Table dagruntasks stores information about tasks state of DAG runs.
CREATE TABLE IF NOT EXISTS dagruntasks (
    RunId TEXT NOT NULL,            -- Run ID
    TaskId TEXT NOT NULL,           -- Task ID
    InsertTs TEXT NOT NULL,         -- Insert timestamp
    Status TEXT NOT NULL,           -- DAG task execution status
    StatusUpdateTs TEXT NOT NULL,   -- Status update timestamp (on first insert it's the same as InsertTs)
    Output TEXT NULL,               -- Captured task output
    Reason TEXT NULL,               -- Error or skip reason
    Version TEXT NOT NULL,          -- Scheduler version

    PRIMARY KEY (RunId, TaskId)
);
`
}

func createSchedulesTable() string {
	return `
-- Table schedules stores information about DAG schedules, including regular
-- planned schedules, manual triggers, skipped overlapping runs etc.
CREATE TABLE IF NOT EXISTS schedules (
    DagId TEXT NOT NULL,           -- DAG ID
    InsertTs TEXT NOT NULL,        -- Insert timestamp
    Event TEXT NOT NULL,           -- Schedule related event
    ScheduleTs TEXT NULL,          -- Schedule timestamp for the DAG
    NextScheduleTs TEXT NOT NULL,  -- Next planned Schedule timestamp

    PRIMARY KEY (DagId, InsertTs, Event)
);
`
}
