package sqlinline

const QGetAvailableCredits = `--sql ce427733-b033-4a68-b411-4065a5482c7a
select coalesce(get_total_available_credits($1::uuid), 0)::bigint;
`

// QFreezeCredits moves credits from available to frozen and stamps batch_jobs.frozen_credits.
const QFreezeCredits = `--sql 10d3e217-ac01-4e16-9a8c-3c373b091acb
select freeze_credits_for_batch($1::uuid, $2::uuid, $3::bigint);
`

const QFinalizeCredits = `--sql 0bfe322e-e611-418a-855b-73c9d2b93a1b
select finalize_batch_credits($1::uuid, $2::uuid, $3::bigint);
`

const QDeductCredits = `--sql b4cfc70e-b792-4738-9998-3328f7b8fba2
select deduct_credits_from_wallet($1::uuid, $2::bigint, $3::text);
`

const QAddCredits = `--sql 4984abb1-26aa-4c8f-9ef1-88e247d939d5
select add_credits_to_wallet($1::uuid, $2::bigint, $3::text);
`
