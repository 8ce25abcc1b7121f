package sqlinline

const QCountUsageInBucket = `--sql dd66f038-74d4-426e-b9cb-645080bf1887
select count(*)
from enterprise_api_usage
where api_key_id = $1::uuid
  and minute_bucket = $2::timestamptz;
`

// QInsertUsage returns no row when (api_key_id, request_id) already exists.
const QInsertUsage = `--sql fb35d326-6c33-476a-ab2c-6ab387099827
insert into enterprise_api_usage (
    id, api_key_id, endpoint, ip, user_agent, country, request_id, minute_bucket, created_at
)
values (
    gen_random_uuid(), $1::uuid, $2::text, nullif($3::text, ''), nullif($4::text, ''),
    nullif($5::text, ''), $6::text, $7::timestamptz, now()
)
on conflict (api_key_id, request_id) do nothing
returning id::text, created_at;
`

const QSelectUsageByRequest = `--sql 91daee7c-2874-416d-bacf-478717c92615
select
    id::text,
    api_key_id::text,
    endpoint,
    coalesce(ip, ''),
    coalesce(user_agent, ''),
    coalesce(country, ''),
    request_id,
    minute_bucket,
    coalesce(batch_job_id::text, ''),
    created_at
from enterprise_api_usage
where api_key_id = $1::uuid
  and request_id = $2::text;
`

const QLinkUsageBatch = `--sql 15514be0-fddb-4b52-9b2c-1616056d269b
update enterprise_api_usage
set batch_job_id = $3::uuid
where api_key_id = $1::uuid
  and request_id = $2::text;
`

const QDeleteUsage = `--sql 07dfe546-92cf-4eb9-9be4-4a3532f0fc2c
delete from enterprise_api_usage
where api_key_id = $1::uuid
  and request_id = $2::text
  and batch_job_id is null;
`

const QIncrementUsageDaily = `--sql a5936b81-b002-4c97-8b18-3e9edcb548e5
select increment_usage_daily($1::uuid, $2::date, $3::int);
`
