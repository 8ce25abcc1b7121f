package sqlinline

const batchColumns = `id::text, user_id::text, coalesce(request_id, ''), source, status,
    total_count, success_count, failed_count, cost_per_video, frozen_credits, credits_spent,
    settlement_status, coalesce(webhook_url, ''), enqueued_at, completed_at, created_at`

const QInsertBatch = `--sql 19a2a569-ad6d-43bf-b951-629a30c6e3d8
insert into batch_jobs (
    id, user_id, request_id, source, status,
    total_count, success_count, failed_count,
    cost_per_video, frozen_credits, credits_spent,
    settlement_status, webhook_url, created_at
)
values (
    $1::uuid, $2::uuid, nullif($3::text, ''), $4::text, 'queued',
    $5::int, 0, 0,
    $6::bigint, 0, 0,
    'pending', nullif($7::text, ''), now()
)
returning created_at;
`

const QDeleteBatch = `--sql 88ea64d2-3390-4aec-992d-1a2b72440b70
delete from batch_jobs
where id = $1::uuid;
`

const QSelectBatch = `--sql f48c74bf-f8ad-4491-896b-ebecb56957a1
select ` + batchColumns + `
from batch_jobs
where id = $1::uuid;
`

const QSelectBatchForUser = `--sql 6f11e0cf-aa31-4206-b394-71c89a794b1d
select ` + batchColumns + `
from batch_jobs
where id = $1::uuid
  and user_id = $2::uuid;
`

// QSelectSettledBatchByRequest finds the batch a request id produced once its
// credits are frozen, so a half-written submission is never matched.
const QSelectSettledBatchByRequest = `--sql 1d994478-d14a-4372-a47c-903d4f3405ed
select ` + batchColumns + `
from batch_jobs
where user_id = $1::uuid
  and request_id = $2::text
  and frozen_credits > 0
order by created_at desc
limit 1;
`

const QListRecentBatches = `--sql ff6caf13-58c6-4189-a533-f3c4b6c828df
select ` + batchColumns + `
from batch_jobs
where user_id = $1::uuid
order by created_at desc
limit $2::int;
`

const QSelectBatchEnqueuedAt = `--sql a39d33c2-3734-4d76-9f7f-ea377fe7034c
select enqueued_at
from batch_jobs
where id = $1::uuid;
`

const QMarkBatchEnqueued = `--sql 5bb2131b-f22b-41fa-bd43-8271c6c56d25
update batch_jobs
set enqueued_at = now()
where id = $1::uuid
  and enqueued_at is null;
`
