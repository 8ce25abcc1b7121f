package sqlinline

// QWorkerClaimBatch picks the oldest funded queued batch. Batches pushed to the
// queue are left to queue consumers for $1 seconds before pull workers take them.
const QWorkerClaimBatch = `--sql 11418385-147d-4a26-96a9-15acdb9afa04
with next_batch as (
    select id
    from batch_jobs
    where status = 'queued'
      and frozen_credits > 0
      and (enqueued_at is null or enqueued_at < now() - make_interval(secs => $1::double precision))
    order by created_at asc
    for update skip locked
    limit 1
)
update batch_jobs
set status = 'processing'
where id in (select id from next_batch)
returning ` + batchColumns + `;
`

const QWorkerClaimBatchByID = `--sql 946a4359-7780-45b4-b647-e67a876ef256
update batch_jobs
set status = 'processing'
where id = $1::uuid
  and status = 'queued'
  and frozen_credits > 0
returning ` + batchColumns + `;
`

const QWorkerMarkTaskProcessing = `--sql 3e43efc7-d91f-4ae5-bf09-61ee98dfa1e1
update video_tasks
set status = 'processing', updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

// QWorkerCompleteTask only touches non-terminal tasks, so each task bumps its batch counter once.
const QWorkerCompleteTask = `--sql 430138ea-e455-4178-9432-3ff939a019f6
with done as (
    update video_tasks
    set status = 'succeeded', video_url = $2::text, error_message = null, updated_at = now()
    where id = $1::uuid
      and status in ('pending', 'processing')
    returning batch_job_id
)
update batch_jobs b
set success_count = b.success_count + 1
from done
where b.id = done.batch_job_id;
`

const QWorkerFailTask = `--sql 84c42ae6-8f27-40a6-8d95-aa452930bb6a
with done as (
    update video_tasks
    set status = 'failed', error_message = $2::text, updated_at = now()
    where id = $1::uuid
      and status in ('pending', 'processing')
    returning batch_job_id
)
update batch_jobs b
set failed_count = b.failed_count + 1
from done
where b.id = done.batch_job_id;
`

const QWorkerSettleBatch = `--sql 2ede9aa2-349c-4a12-9f0f-4aa8bd427ae8
update batch_jobs
set status = $2::text,
    credits_spent = $3::bigint,
    settlement_status = $4::text,
    completed_at = now()
where id = $1::uuid
  and status = 'processing';
`

// QWorkerDeleteOrphanBatches removes queued batches whose credits were never frozen.
const QWorkerDeleteOrphanBatches = `--sql 0e44d7ad-ba87-4619-84b3-20f086458db0
with orphans as (
    select id
    from batch_jobs
    where status = 'queued'
      and frozen_credits = 0
      and created_at < $1::timestamptz
    for update skip locked
),
dropped_tasks as (
    delete from video_tasks
    where batch_job_id in (select id from orphans)
),
released_usage as (
    delete from enterprise_api_usage
    where batch_job_id in (select id from orphans)
)
delete from batch_jobs
where id in (select id from orphans)
returning id::text;
`

// QWorkerRequeueStalledBatches returns processing batches to the queue when none of
// their tasks changed since $1, which happens when a worker dies mid-batch.
const QWorkerRequeueStalledBatches = `--sql 7c0d3b52-5e61-4f0e-9a2f-d86a1c4be913
update batch_jobs b
set status = 'queued'
where b.status = 'processing'
  and not exists (
      select 1
      from video_tasks t
      where t.batch_job_id = b.id
        and t.updated_at >= $1::timestamptz
  )
returning b.id::text;
`
