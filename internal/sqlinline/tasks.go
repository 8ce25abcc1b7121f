package sqlinline

// QInsertTasks inserts every task of a batch in one statement. Arrays are positional:
// id, batch_index, prompt, model, aspect_ratio, duration, reference_url, meta.
const QInsertTasks = `--sql 91741a2b-0619-48d4-a020-696bfa60e5b7
insert into video_tasks (
    id, user_id, batch_job_id, batch_index, prompt, model, aspect_ratio, duration,
    reference_url, meta, status, created_at, updated_at
)
select
    t.id::uuid,
    $1::uuid,
    $2::uuid,
    t.batch_index,
    t.prompt,
    nullif(t.model, ''),
    nullif(t.aspect_ratio, ''),
    nullif(t.duration, ''),
    nullif(t.reference_url, ''),
    nullif(t.meta, '')::jsonb,
    'pending',
    now(),
    now()
from unnest(
    $3::text[], $4::int[], $5::text[], $6::text[], $7::text[], $8::text[], $9::text[], $10::text[]
) as t(id, batch_index, prompt, model, aspect_ratio, duration, reference_url, meta);
`

const QDeleteTasksForBatch = `--sql b33b2ee8-75d9-4bea-a841-780e5a9c41de
delete from video_tasks
where batch_job_id = $1::uuid;
`

const QListTasksForBatch = `--sql 3e39f44a-62e1-4376-8744-7c36debc513b
select
    id::text,
    user_id::text,
    batch_job_id::text,
    batch_index,
    prompt,
    coalesce(model, ''),
    coalesce(aspect_ratio, ''),
    coalesce(duration, ''),
    coalesce(reference_url, ''),
    meta,
    status,
    coalesce(video_url, ''),
    coalesce(error_message, ''),
    created_at,
    updated_at
from video_tasks
where batch_job_id = $1::uuid
order by batch_index asc;
`
