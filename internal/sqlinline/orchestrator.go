package sqlinline

const QOrchestratorSchema = `--sql d0173d7e-3e0b-4f7e-a694-59295aedb2aa
create table if not exists generation_batches (
    id          text primary key,
    settled     boolean     not null default false,
    snapshot    jsonb       not null,
    created_at  timestamptz not null default now(),
    settled_at  timestamptz
);
create index if not exists generation_batches_open_idx on generation_batches (created_at) where not settled;
create table if not exists generation_jobs (
    id          text primary key,
    batch_id    text        not null,
    attempt_id  text        not null default '',
    state       text        not null,
    snapshot    jsonb       not null,
    updated_at  timestamptz not null default now()
);
create index if not exists generation_jobs_batch_idx on generation_jobs (batch_id);
`

const QUpsertGenerationJob = `--sql 38b17876-f9b2-4e19-8e10-c03bd6e4c335
insert into generation_jobs (id, batch_id, attempt_id, state, snapshot, updated_at)
values ($1, $2, $3, $4, $5::jsonb, $6)
on conflict (id) do update
set batch_id   = excluded.batch_id,
    attempt_id = excluded.attempt_id,
    state      = excluded.state,
    snapshot   = excluded.snapshot,
    updated_at = excluded.updated_at;
`

const QSelectGenerationJob = `--sql 39eb2b3d-5976-4152-ad24-6677b67cb9ae
select snapshot
from generation_jobs
where id = $1;
`

const QSelectGenerationJobs = `--sql 1df9c305-c622-43fc-a5cf-a20ad19b49d0
select j.snapshot
from unnest($1::text[]) with ordinality as ids(id, pos)
join generation_jobs j on j.id = ids.id
order by ids.pos;
`

const QUpsertGenerationBatch = `--sql ef6da42d-9deb-4061-86a2-27701339e927
insert into generation_batches (id, settled, snapshot, created_at, settled_at)
values ($1, $2, $3::jsonb, $4, $5)
on conflict (id) do update
set settled    = excluded.settled,
    snapshot   = excluded.snapshot,
    settled_at = excluded.settled_at;
`

const QSelectGenerationBatch = `--sql 5551846c-9239-43e6-983d-8e3245ea7559
select snapshot
from generation_batches
where id = $1;
`

const QSelectOpenGenerationBatches = `--sql 4f683ffc-2dda-4e52-87b6-d96f24af9ce0
select snapshot
from generation_batches
where not settled
order by created_at asc;
`
