package db

import (
	"context"
	"time"

	"github.com/meltinfra/bootstrap/timeutils"
)

// Schedule represents a row in schedules table.
type Schedule struct {
	DagId          string
	InsertTs       string
	Event          string
	ScheduleTs     *string
	NextScheduleTs string
}

// ReadDagSchedules reads all schedule events for a given dag sorted from
// newest to oldest.
func (c *Client) ReadDagSchedules(ctx context.Context, dagId string) ([]Schedule, error) {
	start := time.Now()
	c.logger.Debug().Str("dagId", dagId).Msg("Start reading dag schedule events")
	dagSchedules, err := readRows(
		ctx, c.dbConn, c.logger, parseScheduleRow,
		c.rebind(c.readDagSchedulesQuery()), dagId,
	)
	if err != nil {
		c.logger.Error().Err(err).Str("dagId", dagId).
			Msg("Failed querying DAG schedules")
		return nil, err
	}
	c.logger.Debug().Str("dagId", dagId).Dur("duration", time.Since(start)).
		Msg("Finished reading dag schedule events")
	return dagSchedules, nil
}

// InsertDagSchedule inserts new event regarding DAG schedule.
func (c *Client) InsertDagSchedule(
	ctx context.Context, dagId, event, nextSchedule string, schedule *string,
) error {
	start := time.Now()
	insertTs := timeutils.ToString(timeutils.Now())
	c.logger.Debug().Str("dagId", dagId).Str("event", event).
		Str("nextScheduleTs", nextSchedule).
		Msg("Start inserting new DAG schedule event")
	_, iErr := c.dbConn.ExecContext(
		ctx, c.rebind(c.insertDagScheduleQuery()), dagId, insertTs, event,
		schedule, nextSchedule,
	)
	if iErr != nil {
		c.logger.Error().Err(iErr).Str("dagId", dagId).Str("event", event).
			Str("nextScheduleTs", nextSchedule).
			Msg("Failed to insert new DAG schedule event")
		return iErr
	}
	c.logger.Debug().Str("dagId", dagId).Str("event", event).
		Dur("duration", time.Since(start)).
		Msg("Finished inserting new DAG schedule event")
	return nil
}

// Parses single Schedule row based on SQL query result.
func parseScheduleRow(rows Scannable) (Schedule, error) {
	var s Schedule
	scanErr := rows.Scan(&s.DagId, &s.InsertTs, &s.Event, &s.ScheduleTs,
		&s.NextScheduleTs)
	if scanErr != nil {
		return Schedule{}, scanErr
	}
	return s, nil
}

func (c *Client) insertDagScheduleQuery() string {
	return `
	INSERT INTO schedules(DagId, InsertTs, Event, ScheduleTs, NextScheduleTs)
	VALUES (?,?,?,?,?)
`
}

func (c *Client) readDagSchedulesQuery() string {
	return `
		SELECT
			DagId,
			InsertTs,
			Event,
			ScheduleTs,
			NextScheduleTs
		FROM
			schedules
		WHERE
			DagId = ?
		ORDER BY
			InsertTs DESC
`
}
