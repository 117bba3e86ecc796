package gateway

// Schema is the gateway's GraphQL schema. Money-mutating operations return a
// result payload (DepositResult, ReversalResult) with success and errors;
// list queries return cursor Connections.
const Schema = `
schema {
  query: Query
  mutation: Mutation
}

scalar Long
scalar Time

type Query {
  wallet(currency: String!): Wallet
  userBonuses(first: Int, after: String, last: Int, before: String): UserBonusConnection!
  bonusTransactions(userBonusId: ID!): [BonusTransaction!]!
  health: Health!
}

type Mutation {
  deposit(input: DepositInput!): DepositResult!
  withdraw(input: WithdrawInput!): DepositResult!
  reverseDeposit(transactionId: ID!, reason: String!): ReversalResult!

  recordBonusActivity(input: BonusActivityInput!): UserBonusResult!
  convertBonus(userBonusId: ID!): UserBonusResult!
  approveBonus(token: String!): UserBonusResult!
  rejectBonus(token: String!, reason: String!): SagaStatus!

  sendOtp(input: SendOtpInput!): OtpResult!
  verifyOtp(input: VerifyOtpInput!): SagaStatus!
  resendOtp(otpToken: String!): OtpResult!

  enableTwoFactor(password: String!): TwoFactorEnrollment!
  verifyTwoFactor(token: String!): SagaStatus!
}

input DepositInput {
  amount: Long!
  currency: String!
  sagaId: ID
}

input WithdrawInput {
  amount: Long!
  currency: String!
  sagaId: ID
}

input BonusActivityInput {
  userBonusId: ID!
  amount: Long!
  currency: String!
  transactionId: ID
  activityCategory: String
}

input SendOtpInput {
  recipient: String!
  channel: String!
  purpose: String!
  expiresInSec: Int
}

input VerifyOtpInput {
  otpToken: String!
  code: String!
}

type Wallet {
  id: ID!
  userId: ID!
  currency: String!
  balance: Long!
  bonusBalance: Long!
  lockedBalance: Long!
  availableBalance: Long!
}

type UserBonus {
  id: ID!
  templateCode: String!
  type: String!
  status: String!
  currency: String!
  originalValue: Long!
  currentValue: Long!
  turnoverRequired: Long!
  turnoverProgress: Long!
  expiresAt: Time!
}

type BonusTransaction {
  id: ID!
  type: String!
  amount: Long!
  turnoverContribution: Long!
  activityCategory: String
  createdAt: Time!
}

type DepositResult {
  success: Boolean!
  sagaId: ID!
  wallet: Wallet
  bonus: UserBonus
  errors: [String!]
  executionTimeMs: Int!
}

type ReversalResult {
  success: Boolean!
  transactionId: ID
  errors: [String!]
}

type UserBonusResult {
  success: Boolean!
  bonus: UserBonus
  pendingToken: String
  errors: [String!]
}

type SagaStatus {
  success: Boolean!
  errors: [String!]
}

type OtpResult {
  success: Boolean!
  otpToken: String
  expiresIn: Int
  errors: [String!]
}

type TwoFactorEnrollment {
  success: Boolean!
  secret: String
  otpAuthUrl: String
  backupCodes: [String!]
  errors: [String!]
}

type UserBonusConnection {
  nodes: [UserBonus!]!
  edges: [UserBonusEdge!]!
  pageInfo: PageInfo!
  totalCount: Int!
}

type UserBonusEdge {
  node: UserBonus!
  cursor: String!
}

type PageInfo {
  hasNextPage: Boolean!
  hasPreviousPage: Boolean!
  startCursor: String
  endCursor: String
}

type Health {
  status: String!
  service: String!
  uptimeSec: Int!
}
`
