package sqlinline

const QSelectAPIKeyByHash = `--sql 43d24bfe-c12e-41cf-9d63-486866745689
select
    id::text,
    user_id::text,
    name,
    prefix,
    status,
    rate_limit_per_minute,
    coalesce(cost_per_video, 0),
    created_at,
    last_used_at
from enterprise_api_keys
where key_hash = $1::text
limit 1;
`

const QInsertAPIKey = `--sql 2f0331ba-e6c2-47bb-a98e-0f50d8b96246
insert into enterprise_api_keys (
    id, user_id, name, prefix, key_hash, status, rate_limit_per_minute, cost_per_video, created_at
)
values (
    $1::uuid, $2::uuid, $3::text, $4::text, $5::text, 'active', $6::int, nullif($7::bigint, 0), now()
)
returning created_at;
`

const QUpdateAPIKeyStatus = `--sql f53acab9-5fc6-4601-b1aa-4084775a96c2
update enterprise_api_keys
set status = $2::text
where id = $1::uuid;
`

const QTouchAPIKey = `--sql b31828b9-379d-4098-a2c8-d2eb61a02cfb
update enterprise_api_keys
set last_used_at = now()
where id = $1::uuid;
`
