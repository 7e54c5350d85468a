package store

// schemaSQL defines the four memory tables. Each vector table carries an
// HNSW index over its embedding; the failures table is recency-only.
const schemaSQL = `
    -- ==========================================================================
    -- CANONICAL TEXT (static script and style chunks, indexed at ingest)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS chunk SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS chunk_id ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS chunk_text ON chunk TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON chunk TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS created ON chunk TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS chunk_chunk_id ON chunk FIELDS chunk_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS chunk_embedding ON chunk FIELDS embedding HNSW DIMENSION 1536 DIST COSINE TYPE F32;

    -- ==========================================================================
    -- EPISODIC TEXT (one record per accepted or attempted render)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS episode SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS scene_id ON episode TYPE int;
    DEFINE FIELD IF NOT EXISTS shot_id ON episode TYPE int;
    DEFINE FIELD IF NOT EXISTS summary ON episode TYPE string;
    DEFINE FIELD IF NOT EXISTS embedding ON episode TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS entities ON episode TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS quality_score ON episode TYPE float DEFAULT 0.0;
    DEFINE FIELD IF NOT EXISTS timestamp ON episode TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS episode_timestamp ON episode FIELDS timestamp;
    DEFINE INDEX IF NOT EXISTS episode_scene ON episode FIELDS scene_id;
    DEFINE INDEX IF NOT EXISTS episode_embedding ON episode FIELDS embedding HNSW DIMENSION 1536 DIST COSINE TYPE F32;

    -- ==========================================================================
    -- VISUAL CONTEXT (reference images use scene_id = -1)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS frame SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS frame_id ON frame TYPE string;
    DEFINE FIELD IF NOT EXISTS scene_id ON frame TYPE int;
    DEFINE FIELD IF NOT EXISTS shot_id ON frame TYPE int;
    DEFINE FIELD IF NOT EXISTS embedding ON frame TYPE array<float>;
    DEFINE FIELD IF NOT EXISTS thumb_path ON frame TYPE string;
    DEFINE FIELD IF NOT EXISTS category ON frame TYPE string;
    DEFINE FIELD IF NOT EXISTS entity ON frame TYPE string;
    DEFINE FIELD IF NOT EXISTS tags ON frame TYPE array<string>;
    DEFINE FIELD IF NOT EXISTS source ON frame TYPE string;
    DEFINE FIELD IF NOT EXISTS confidence ON frame TYPE float DEFAULT 1.0;
    DEFINE FIELD IF NOT EXISTS prompt ON frame TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS original_path ON frame TYPE string DEFAULT "";
    DEFINE FIELD IF NOT EXISTS created ON frame TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS frame_frame_id ON frame FIELDS frame_id UNIQUE;
    DEFINE INDEX IF NOT EXISTS frame_entity ON frame FIELDS entity;
    DEFINE INDEX IF NOT EXISTS frame_scene ON frame FIELDS scene_id;
    DEFINE INDEX IF NOT EXISTS frame_embedding ON frame FIELDS embedding HNSW DIMENSION 1536 DIST COSINE TYPE F32;

    -- ==========================================================================
    -- FAILURES (rejected attempts, queried by recency)
    -- ==========================================================================
    DEFINE TABLE IF NOT EXISTS failure SCHEMAFULL;
    DEFINE FIELD IF NOT EXISTS frame_id ON failure TYPE string;
    DEFINE FIELD IF NOT EXISTS err_code ON failure TYPE string;
    DEFINE FIELD IF NOT EXISTS neg_prompt_token ON failure TYPE string;
    DEFINE FIELD IF NOT EXISTS timestamp ON failure TYPE datetime DEFAULT time::now();

    DEFINE INDEX IF NOT EXISTS failure_timestamp ON failure FIELDS timestamp;
`
