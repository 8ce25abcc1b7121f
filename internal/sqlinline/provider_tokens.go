package sqlinline

// Provider tokens live in integration_tokens, one row per provider.

const QSelectProviderToken = `--sql d888fe3b-06ad-43d3-81c5-06291dd2d115
select coalesce(token, '')
from integration_tokens
where provider = $1::text;
`

const QUpsertProviderToken = `--sql 83f24b2c-f207-4019-a20f-e64a9f50bf18
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update
set token = excluded.token,
    properties = integration_tokens.properties || excluded.properties,
    updated_at = now();
`
