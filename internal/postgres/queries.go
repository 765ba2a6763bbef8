package postgres

const (
	queryInsertAudit = `
		INSERT INTO audit_logs (
			id, user_id, action, resource_type, resource_id, details, ip_address, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8);
	`
	// $2..$4 are optional filters, ($5,$6) is the keyset cursor.
	queryListAudit = `
		SELECT
			id::text, user_id, action, resource_type, resource_id, details, ip_address, created_at
		FROM audit_logs
		WHERE user_id = $1
		  AND ($2::text IS NULL OR action = $2)
		  AND ($3::text IS NULL OR resource_type = $3)
		  AND ($4::text IS NULL OR resource_id = $4)
		  AND (
		    $5::timestamptz IS NULL
		    OR created_at < $5
		    OR (created_at = $5 AND id < $6::uuid)
		  )
		ORDER BY created_at DESC, id DESC
		LIMIT $7;
	`
)
