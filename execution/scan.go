package execution

import (
	"database/sql"
)

// executionScanArgs holds the nullable columns of an execution row
type executionScanArgs struct {
	ParentID    sql.NullString
	BusinessKey sql.NullString
	ActivityID  sql.NullString
	WaitState   string
	EntityState int64
}

// standardExecutionSelectColumns is the column list matched by executionScanTargets
func standardExecutionSelectColumns() string {
	return `id, parent_id, process_instance_id, process_definition_id,
		business_key, activity_id,
		is_active, is_concurrent, is_scope, is_ended,
		wait_state, sequence_counter, cached_entity_state, created_seq`
}

func executionScanTargets(e *Execution, args *executionScanArgs) []interface{} {
	return []interface{}{
		&e.ID,
		&args.ParentID,
		&e.ProcessInstanceID,
		&e.ProcessDefinitionID,
		&args.BusinessKey,
		&args.ActivityID,
		&e.IsActive,
		&e.IsConcurrent,
		&e.IsScope,
		&e.IsEnded,
		&args.WaitState,
		&e.SequenceCounter,
		&args.EntityState,
		&e.CreationOrder,
	}
}

func processExecutionScanArgs(e *Execution, args *executionScanArgs) {
	if args.ParentID.Valid {
		e.ParentID = args.ParentID.String
	}
	if args.BusinessKey.Valid {
		e.BusinessKey = args.BusinessKey.String
	}
	if args.ActivityID.Valid {
		e.ActivityID = args.ActivityID.String
	}
	e.WaitState = WaitState(args.WaitState)
	e.CachedEntityState = EntityState(args.EntityState)
}

func scanExecutions(rows *sql.Rows) ([]Execution, error) {
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var args executionScanArgs
		if err := rows.Scan(executionScanTargets(&e, &args)...); err != nil {
			return nil, err
		}
		processExecutionScanArgs(&e, &args)
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
